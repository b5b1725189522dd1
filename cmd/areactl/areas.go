package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/perimeter-epitech/area/model"
)

func areasCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "areas",
		Usage: "Manage your areas",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List your areas",
				Action: func(ctx context.Context, c *cli.Command) error {
					token, err := a.token()
					if err != nil {
						return err
					}
					areas, err := a.client.Areas(ctx, token)
					if err != nil {
						return a.check(err)
					}
					return a.print(areas, func(w io.Writer) {
						tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tTITLE\tENABLED\tACTION\tREACTION")
						for _, ar := range areas {
							fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", ar.ID, ar.Title, ar.Enable, typeName(ar.Action), typeName(ar.Reaction))
						}
						_ = tw.Flush()
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Show one area",
				ArgsUsage: "<area-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					area, err := a.findArea(ctx, c)
					if err != nil {
						return err
					}
					return a.print(area, func(w io.Writer) { printArea(w, area) })
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an area",
				ArgsUsage: "<area-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := argID(c, 0, "area-id")
					if err != nil {
						return err
					}
					token, err := a.token()
					if err != nil {
						return err
					}
					if err := a.client.DeleteArea(ctx, token, id); err != nil {
						return a.check(err)
					}
					fmt.Fprintf(a.out, "Area %d deleted\n", id)
					return nil
				},
			},
			enableCommand(a, "enable", true),
			enableCommand(a, "disable", false),
			{
				Name:      "results",
				Usage:     "Show the reaction log of an area",
				ArgsUsage: "<area-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id, err := argID(c, 0, "area-id")
					if err != nil {
						return err
					}
					token, err := a.token()
					if err != nil {
						return err
					}
					results, err := a.client.AreaResults(ctx, token, id)
					if err != nil {
						return a.check(err)
					}
					return a.print(results, func(w io.Writer) {
						if len(results) == 0 {
							fmt.Fprintln(w, "No results yet")
							return
						}
						tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "WHEN\tRESULT")
						for _, r := range results {
							fmt.Fprintf(tw, "%s\t%s\n", formatTime(r.CreatedAt), r.Result)
						}
						_ = tw.Flush()
					})
				},
			},
		},
	}
}

func enableCommand(a *app, name string, enable bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("%s an area", name),
		ArgsUsage: "<area-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			area, err := a.findArea(ctx, c)
			if err != nil {
				return err
			}
			area.Enable = enable
			updated, err := a.client.UpdateArea(ctx, a.sess.Token, area)
			if err != nil {
				return a.check(err)
			}
			return a.print(updated, func(w io.Writer) {
				fmt.Fprintf(w, "Area %d enabled: %t\n", area.ID, enable)
			})
		},
	}
}

// findArea resolves the <area-id> argument against the user's areas. The
// API has no single-area read.
func (a *app) findArea(ctx context.Context, c *cli.Command) (model.Area, error) {
	id, err := argID(c, 0, "area-id")
	if err != nil {
		return model.Area{}, err
	}
	token, err := a.token()
	if err != nil {
		return model.Area{}, err
	}
	areas, err := a.client.Areas(ctx, token)
	if err != nil {
		return model.Area{}, a.check(err)
	}
	for _, ar := range areas {
		if ar.ID == id {
			return ar, nil
		}
	}
	return model.Area{}, fmt.Errorf("no area with id %d", id)
}

func printArea(w io.Writer, ar model.Area) {
	fmt.Fprintf(w, "Area %d: %s\n", ar.ID, ar.Title)
	fmt.Fprintf(w, "  description:  %s\n", ar.Description)
	fmt.Fprintf(w, "  enabled:      %t\n", ar.Enable)
	fmt.Fprintf(w, "  action:       %s %s\n", typeName(ar.Action), string(ar.ActionOption))
	fmt.Fprintf(w, "  reaction:     %s %s\n", typeName(ar.Reaction), string(ar.ReactionOption))
	if ar.ActionRefreshRate > 0 {
		fmt.Fprintf(w, "  refresh rate: %ds\n", ar.ActionRefreshRate)
	}
	if ar.CreatedAt != nil {
		fmt.Fprintf(w, "  created:      %s\n", formatTime(ar.CreatedAt))
	}
}

func typeName(t *model.Type) string {
	if t == nil {
		return "-"
	}
	if svc := t.Owner(); svc != nil && svc.Name != "" {
		return svc.Name + "/" + t.Name
	}
	return t.Name
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
