package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"libcatalog/pkg/catalog"
	"libcatalog/pkg/client"
	"libcatalog/pkg/view"
)

var (
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List books, filtered, searched and sorted",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	showCmd = &cobra.Command{
		Use:   "show ID",
		Short: "Show one book with its borrowers and borrow history",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	addCmd = &cobra.Command{
		Use:   "add",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE:  runAdd,
	}
	editCmd = &cobra.Command{
		Use:   "edit ID",
		Short: "Change title, author, year or quantity of a book",
		Args:  cobra.ExactArgs(1),
		RunE:  runEdit,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete ID",
		Short: "Permanently delete a book",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	borrowCmd = &cobra.Command{
		Use:   "borrow ID",
		Short: "Borrow a copy of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMessage(api.Borrow(cmd.Context(), args[0]))
		},
	}
	returnCmd = &cobra.Command{
		Use:   "return ID",
		Short: "Return a borrowed copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMessage(api.Return(cmd.Context(), args[0]))
		},
	}
	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List your delete requests waiting for confirmation",
		Args:  cobra.NoArgs,
		RunE:  runPending,
	}
	confirmCmd = &cobra.Command{
		Use:   "confirm CONFIRMATION_ID",
		Short: "Carry out a pending delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMessage(api.Confirm(cmd.Context(), args[0]))
		},
	}
	cancelCmd = &cobra.Command{
		Use:   "cancel CONFIRMATION_ID",
		Short: "Drop a pending delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMessage(api.Cancel(cmd.Context(), args[0]))
		},
	}
	summaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Show catalog totals",
		Args:  cobra.NoArgs,
		RunE:  runSummary,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print the catalog every time it changes",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
)

func init() {
	listCmd.Flags().String("filter", "", "none, low_stock or old_books")
	listCmd.Flags().String("search", "", "match ISBN, title or author")
	listCmd.Flags().String("sort", "", "title, year or quantity")
	listCmd.Flags().String("direction", "", "asc or desc")

	for _, cmd := range []*cobra.Command{addCmd, editCmd} {
		cmd.Flags().String("title", "", "book title")
		cmd.Flags().String("author", "", "book author")
		cmd.Flags().Int("year", 0, "publication year (1000 or later)")
		cmd.Flags().Int("quantity", 0, "copies in the library")
	}
	addCmd.Flags().String("isbn", "", "ISBN")

	deleteCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}

func printMessage(msg string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	var q client.ListQuery
	q.Filter, _ = cmd.Flags().GetString("filter")
	q.Search, _ = cmd.Flags().GetString("search")
	q.Sort, _ = cmd.Flags().GetString("sort")
	q.Direction, _ = cmd.Flags().GetString("direction")

	p, err := api.List(cmd.Context(), q)
	if err != nil {
		return err
	}
	if outputStyle(cmd) == outputJSON {
		return renderJSON(stdout, p)
	}
	renderBooks(stdout, p.Items)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	it, err := api.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputStyle(cmd) == outputJSON {
		return renderJSON(stdout, it)
	}
	renderBook(stdout, *it)
	return nil
}

func runAdd(cmd *cobra.Command, _ []string) error {
	var in catalog.BookInput
	in.Isbn, _ = cmd.Flags().GetString("isbn")
	in.Title, _ = cmd.Flags().GetString("title")
	in.Author, _ = cmd.Flags().GetString("author")
	in.Year, _ = cmd.Flags().GetInt("year")
	in.Quantity, _ = cmd.Flags().GetInt("quantity")

	id, msg, err := api.Create(cmd.Context(), in)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s (id %s)\n", msg, id)
	return nil
}

// runEdit starts from the current record so that only the given flags
// change.
func runEdit(cmd *cobra.Command, args []string) error {
	current, err := api.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	in := catalog.BookInput{
		Isbn:     current.Isbn,
		Title:    current.Title,
		Author:   current.Author,
		Year:     current.Year,
		Quantity: current.Quantity,
	}
	flags := cmd.Flags()
	if flags.Changed("title") {
		in.Title, _ = flags.GetString("title")
	}
	if flags.Changed("author") {
		in.Author, _ = flags.GetString("author")
	}
	if flags.Changed("year") {
		in.Year, _ = flags.GetInt("year")
	}
	if flags.Changed("quantity") {
		in.Quantity, _ = flags.GetInt("quantity")
	}
	return printMessage(api.Update(cmd.Context(), args[0], in))
}

func runDelete(cmd *cobra.Command, args []string) error {
	req, err := api.RequestDelete(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Fprintf(stdout, "%s [y/N]: ", req.Message)
		answer, _ := bufio.NewReader(stdin).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		yes = answer == "y" || answer == "yes"
	}

	if !yes {
		return printMessage(api.Cancel(cmd.Context(), req.ID))
	}
	return printMessage(api.Confirm(cmd.Context(), req.ID))
}

func runPending(cmd *cobra.Command, _ []string) error {
	reqs, err := api.Pending(cmd.Context())
	if err != nil {
		return err
	}
	if outputStyle(cmd) == outputJSON {
		return renderJSON(stdout, reqs)
	}
	if len(reqs) == 0 {
		fmt.Fprintf(stdout, "No pending confirmations for %s.\n", api.User())
		return nil
	}
	renderConfirmations(stdout, reqs)
	return nil
}

func runSummary(cmd *cobra.Command, _ []string) error {
	s, err := api.Summary(cmd.Context())
	if err != nil {
		return err
	}
	if outputStyle(cmd) == outputJSON {
		return renderJSON(stdout, s)
	}
	renderSummary(stdout, s)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := api.Watch(ctx, func(p view.Projection) error {
		fmt.Fprintf(stdout, "\n%s  %d books, %d available\n",
			time.Now().Format("15:04:05"), p.Summary.TotalBooks, p.Summary.AvailableBooks)
		renderBooks(stdout, p.Items)
		return nil
	})
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}
