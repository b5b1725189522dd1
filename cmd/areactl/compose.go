package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/perimeter-epitech/area/internal/composer"
)

// composeCommand drives the composer wizard one step per invocation. The
// draft lives in a file next to the session, keyed by the session id.
func composeCommand(a *app) *cli.Command {
	var comp *composer.Composer
	withComposer := func(run func(ctx context.Context, c *cli.Command, comp *composer.Composer) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			if comp == nil {
				store := composer.NewFileDraftStore(a.draftsDir())
				comp = composer.New(store, composer.NewMemorySubmitGuard(a.cfg.Composer.Guard.TTL), a.client, nil, a.logger)
			}
			return run(ctx, c, comp)
		}
	}

	pick := func(reaction bool) cli.ActionFunc {
		return withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
			serviceID, err := argID(c, 0, "service-id")
			if err != nil {
				return err
			}
			typeID, err := argID(c, 1, "type-id")
			if err != nil {
				return err
			}
			token, err := a.token()
			if err != nil {
				return err
			}
			d, err := comp.Pick(ctx, a.sess.ID, a.client, token, serviceID, typeID, reaction)
			if err != nil {
				return a.check(err)
			}
			return a.printDraft(d)
		})
	}

	configure := func(reaction bool) cli.ActionFunc {
		return withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
			values, err := parseAssignments(c.Args().Slice())
			if err != nil {
				return err
			}
			set := comp.ConfigureAction
			if reaction {
				set = comp.ConfigureReaction
			}
			d, err := set(ctx, a.sess.ID, values)
			if err != nil {
				return err
			}
			return a.printDraft(d)
		})
	}

	return &cli.Command{
		Name:  "compose",
		Usage: "Build a new area step by step",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the current draft",
				Action: withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
					d, err := comp.Restore(ctx, a.sess.ID)
					if err != nil {
						return err
					}
					return a.printDraft(d)
				}),
			},
			{
				Name:      "action",
				Usage:     "Choose the action",
				ArgsUsage: "<service-id> <type-id>",
				Action:    pick(false),
			},
			{
				Name:      "action-options",
				Usage:     "Set the action options",
				ArgsUsage: "[key=value...]",
				Action:    configure(false),
			},
			{
				Name:      "reaction",
				Usage:     "Choose the reaction",
				ArgsUsage: "<service-id> <type-id>",
				Action:    pick(true),
			},
			{
				Name:      "reaction-options",
				Usage:     "Set the reaction options",
				ArgsUsage: "[key=value...]",
				Action:    configure(true),
			},
			{
				Name:  "describe",
				Usage: "Set the title and description",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Required: true},
					&cli.StringFlag{Name: "refresh-rate", Usage: "seconds between action checks"},
				},
				Action: withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
					var rate uint64
					if raw := c.String("refresh-rate"); raw != "" {
						var err error
						if rate, err = strconv.ParseUint(raw, 10, 64); err != nil {
							return fmt.Errorf("--refresh-rate must be a whole number of seconds, got %q", raw)
						}
					}
					d, err := comp.Describe(ctx, a.sess.ID, c.String("title"), c.String("description"), rate)
					if err != nil {
						return err
					}
					return a.printDraft(d)
				}),
			},
			{
				Name:  "submit",
				Usage: "Create the area",
				Action: withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
					token, err := a.token()
					if err != nil {
						return err
					}
					_, area, err := comp.Submit(ctx, a.sess.ID, token)
					if err != nil {
						return a.check(err)
					}
					return a.print(area, func(w io.Writer) {
						fmt.Fprintf(w, "Area %d created: %s\n", area.ID, area.Title)
					})
				}),
			},
			{
				Name:  "reset",
				Usage: "Discard the draft",
				Action: withComposer(func(ctx context.Context, c *cli.Command, comp *composer.Composer) error {
					d, err := comp.Reset(ctx, a.sess.ID)
					if err != nil {
						return err
					}
					return a.printDraft(d)
				}),
			},
		},
	}
}

func (a *app) printDraft(d *composer.Draft) error {
	return a.print(d, func(w io.Writer) {
		fmt.Fprintf(w, "Stage: %s\n", d.Stage)
		if d.ActionName != "" {
			fmt.Fprintf(w, "Action:   %s/%s %s\n", d.ActionServiceName, d.ActionName, formatOptions(d.ActionOptions))
			for _, f := range d.ActionSchema {
				fmt.Fprintf(w, "  option %s (%s)\n", f.Name, f.Kind)
			}
		}
		if d.ReactionName != "" {
			fmt.Fprintf(w, "Reaction: %s/%s %s\n", d.ReactionServiceName, d.ReactionName, formatOptions(d.ReactionOptions))
			for _, f := range d.ReactionSchema {
				fmt.Fprintf(w, "  option %s (%s)\n", f.Name, f.Kind)
			}
		}
		if d.Title != "" {
			fmt.Fprintf(w, "Title:    %s\n", d.Title)
		}
		if d.Description != "" {
			fmt.Fprintf(w, "Description: %s\n", d.Description)
		}
		if d.LastError != "" {
			fmt.Fprintf(w, "Last error: %s\n", d.LastError)
		}
	})
}

// parseAssignments reads key=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("option %q is not key=value", arg)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func formatOptions(opts map[string]any) string {
	if len(opts) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, opts[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
