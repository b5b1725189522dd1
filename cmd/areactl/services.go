package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perimeter-epitech/area/internal/oauth"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/model"
)

const (
	defaultListen = "127.0.0.1:8765"
	redirectPath  = "/oauthredirect"
)

func servicesCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "services",
		Usage: "List the services the platform offers",
		Flags: []cli.Flag{searchFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			token, err := a.token()
			if err != nil {
				return err
			}
			services, err := a.client.Services(ctx, token)
			if err != nil {
				return a.check(err)
			}
			services = model.FilterServices(services, c.String("search"))
			return a.print(services, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tOAUTH")
				for _, s := range services {
					fmt.Fprintf(tw, "%d\t%s\t%t\n", s.ID, s.Name, s.OAuth)
				}
				_ = tw.Flush()
			})
		},
	}
}

func searchFlag() cli.Flag {
	return &cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "only show names containing `TEXT`, ignoring case"}
}

func actionsCommand(a *app) *cli.Command {
	return typesCommand(a, "actions", "List the actions (triggers) of a service")
}

func reactionsCommand(a *app) *cli.Command {
	return typesCommand(a, "reactions", "List the reactions (effects) of a service")
}

func typesCommand(a *app, name, usage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<service-id>",
		Flags:     []cli.Flag{searchFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argID(c, 0, "service-id")
			if err != nil {
				return err
			}
			token, err := a.token()
			if err != nil {
				return err
			}
			var types []model.Type
			if name == "reactions" {
				types, err = a.client.Reactions(ctx, token, id)
			} else {
				types, err = a.client.Actions(ctx, token, id)
			}
			if err != nil {
				return a.check(err)
			}
			types = model.FilterTypes(types, c.String("search"))
			return a.print(types, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
				for _, t := range types {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", t.ID, t.Name, t.Description)
				}
				_ = tw.Flush()
			})
		},
	}
}

func connectionsCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "connections",
		Usage: "Show which services are connected to the account",
		Action: func(ctx context.Context, c *cli.Command) error {
			token, err := a.token()
			if err != nil {
				return err
			}
			var (
				services []model.Service
				info     model.ConnectionInfo
			)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				services, err = a.client.Services(gctx, token)
				return err
			})
			g.Go(func() error {
				var err error
				info, err = a.client.UserInfoAll(gctx, token)
				return err
			})
			if err := g.Wait(); err != nil {
				return a.check(err)
			}

			rows := model.Connections(services, info)
			return a.print(rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SERVICE\tCONNECTED\tTOKEN")
				for _, r := range rows {
					tok := "-"
					if r.TokenID != 0 {
						tok = fmt.Sprint(r.TokenID)
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\n", r.Service.Name, r.Connected, tok)
				}
				_ = tw.Flush()
			})
		},
	}
}

func connectCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Authorize a provider and link it to the account",
		ArgsUsage: "<provider>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "login", Usage: "log in with the provider instead of linking it"},
			&cli.StringFlag{Name: "listen", Value: defaultListen, Usage: "loopback address for the redirect listener"},
			&cli.BoolFlag{Name: "deep-link", Usage: "register the app deep link as redirect URI and wait for `areactl oauth redirect`"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			name := strings.ToLower(c.Args().First())
			if name == "" {
				return errors.New("missing <provider>")
			}
			listen := c.String("listen")
			redirectURI := "http://" + listen + redirectPath
			if c.Bool("deep-link") {
				redirectURI = a.cfg.OAuth.MobileRedirectURI
			}

			registry, err := provider.NewRegistry(a.cfg.OAuth, redirectURI)
			if err != nil {
				return err
			}
			// Each invocation has its own launcher, so the guard against a
			// second attempt lives in the session file.
			if a.sess.OAuthPending(name, a.cfg.OAuth.PendingTTL, time.Now()) {
				return oauth.AuthResult{Outcome: oauth.OutcomeInProgress, Provider: name}.Err()
			}
			launcher := oauth.NewLauncher(registry, a.cfg.OAuth.PendingTTL, nil, a.logger)
			flow := oauth.NewFlow(launcher, oauth.NewExchanger(a.client, nil, a.logger), nil, nil, a.logger)

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("redirect listener: %w", err)
			}
			srv := &http.Server{Handler: redirectHandler(launcher, a.logger), ReadHeaderTimeout: 5 * time.Second}
			go func() { _ = srv.Serve(ln) }()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			open := func(_ context.Context, authURL string) error {
				if err := a.save(); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				fmt.Fprintf(a.errOut, "Open this URL to authorize %s:\n\n  %s\n\nWaiting for the redirect...\n", name, authURL)
				return nil
			}
			result, err := flow.Connect(ctx, a.sess, name, !c.Bool("login"), open)
			if serr := a.save(); serr != nil {
				a.logger.Error("failed to save session", zap.Error(serr))
			}
			if err != nil {
				if errors.Is(err, provider.ErrNotFound) {
					return fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(registry.Names(), ", "))
				}
				return a.check(err)
			}
			fmt.Fprintf(a.out, "%s: %s\n", result.Provider, result.Outcome)
			return nil
		},
	}
}

// redirectHandler completes pending attempts from the provider redirect.
func redirectHandler(l *oauth.Launcher, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(redirectPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result, err := l.Complete(q.Get("state"), q)
		if err != nil {
			logger.Warn("redirect for unknown attempt", zap.Error(err))
			http.Error(w, "Unknown or expired authorization attempt.", http.StatusBadRequest)
			return
		}
		if result.Outcome != oauth.OutcomeSuccess {
			fmt.Fprintf(w, "Authorization %s. You can close this window.\n", result.Outcome)
			return
		}
		fmt.Fprintln(w, "Authorization received. You can close this window.")
	})
	return mux
}

func disconnectCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "disconnect",
		Usage:     "Remove a service token from the account",
		ArgsUsage: "<token-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argID(c, 0, "token-id")
			if err != nil {
				return err
			}
			token, err := a.token()
			if err != nil {
				return err
			}
			if err := a.client.DeleteToken(ctx, token, id); err != nil {
				return a.check(err)
			}
			fmt.Fprintf(a.out, "Token %d removed\n", id)
			return nil
		},
	}
}

func oauthCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "oauth",
		Usage: "OAuth helpers",
		Commands: []*cli.Command{
			{
				Name:      "redirect",
				Usage:     "Hand a deep-link redirect to the waiting `areactl connect`",
				ArgsUsage: "<uri>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Value: defaultListen, Usage: "address of the waiting redirect listener"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					target, err := forwardURL(c.Args().First(), c.String("listen"))
					if err != nil {
						return err
					}
					req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
					if err != nil {
						return err
					}
					resp, err := http.DefaultClient.Do(req)
					if err != nil {
						return fmt.Errorf("no connect attempt is waiting on %s: %w", c.String("listen"), err)
					}
					defer resp.Body.Close()
					body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
					if resp.StatusCode != http.StatusOK {
						return fmt.Errorf("redirect refused: %s", strings.TrimSpace(string(body)))
					}
					fmt.Fprint(a.out, string(body))
					return nil
				},
			},
		},
	}
}

// forwardURL rewrites a deep link such as
// com.perimeter-epitech://oauthredirect?code=x&state=y onto the loopback
// listener, keeping its query and fragment parameters.
func forwardURL(raw, listen string) (string, error) {
	if raw == "" {
		return "", errors.New("missing <uri>")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	// Implicit-grant providers put the token in the fragment.
	if frag, err := url.ParseQuery(u.Fragment); err == nil {
		for k, vs := range frag {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
	}
	if q.Get("state") == "" {
		return "", errors.New("redirect uri carries no state parameter")
	}
	return (&url.URL{Scheme: "http", Host: listen, Path: redirectPath, RawQuery: q.Encode()}).String(), nil
}
