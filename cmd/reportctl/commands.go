package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"sqlreport/internal/domain/query"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type opener func() (*env, error)

func newListCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List report definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			reports, err := e.service.ListReports(cmd.Context())
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "NAME", "UPDATED"})
			for _, r := range reports {
				table.Append([]string{
					strconv.FormatUint(uint64(r.ID), 10),
					r.Name,
					r.UpdatedAt.Format(time.RFC3339),
				})
			}
			table.Render()
			return nil
		},
	}
}

func newShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report template and its parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			form, err := e.service.QueryForm(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n%s\n\n", form.Report.Name, form.Report.SQLQuery)

			table := newTable(out)
			table.SetHeader([]string{"PARAM", "TITLE", "DEFAULT"})
			for _, f := range form.Fields {
				table.Append([]string{f.Name, f.Title, f.DefaultValue})
			}
			table.Render()
			return nil
		},
	}
}

func newRunCmd(open opener) *cobra.Command {
	var (
		params  []string
		xlsx    string
		showSQL bool
	)

	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a report and print the result",
		Long: `Builds the report query from -p name=value pairs (missing or empty values
fall back to parameter defaults), runs it on the read-only pool and prints the
rows. With --xlsx the same query is re-run and written as a workbook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			values, err := parseParams(params)
			if err != nil {
				return err
			}

			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			res, err := e.service.RunReport(ctx, e.session, id, values)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showSQL {
				fmt.Fprintln(out, res.SQL)
			}
			printResult(out, res.Result)

			if xlsx == "" {
				return nil
			}

			exp, err := e.service.PrepareExport(ctx, e.session, id)
			if err != nil {
				return err
			}
			f, err := os.Create(xlsx)
			if err != nil {
				return err
			}
			if err := exp.WriteTo(ctx, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "written %s\n", xlsx)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter value as name=value (repeatable)")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also write the result to this xlsx file")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print the built SQL before the result")
	return cmd
}

func newExportsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "exports <id>",
		Short: "List archived workbooks of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			e, err := open()
			if err != nil {
				return err
			}
			defer e.Close()

			files, err := e.service.ListArchivedExports(cmd.Context(), id)
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout())
			table.SetHeader([]string{"KEY", "SIZE", "MODIFIED"})
			for _, f := range files {
				table.Append([]string{f.Key, strconv.FormatInt(f.Size, 10), f.LastModified.Format(time.RFC3339)})
			}
			table.Render()
			return nil
		},
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	return table
}

func printResult(w io.Writer, rs *query.ResultSet) {
	table := newTable(w)
	table.SetHeader(rs.Header())
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		table.Append(cells)
	}
	table.Render()
	fmt.Fprintf(w, "(%d rows)\n", rs.Len())
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid report id %q", s)
	}
	return uint(id), nil
}

func parseParams(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", p)
		}
		values[name] = value
	}
	return values, nil
}
