package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/perimeter-epitech/area/model"
)

func loginCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in with a username and password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, Sources: cli.EnvVars("AREA_PASSWORD")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			username := c.String("username")
			token, err := a.client.Login(ctx, username, c.String("password"))
			if err != nil {
				return err
			}
			a.sess.SetToken(token)
			a.sess.Username = username
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", username)
			return nil
		},
	}
}

func registerCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and log in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, Sources: cli.EnvVars("AREA_PASSWORD")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			creds := model.Credentials{
				Email:    c.String("email"),
				Username: c.String("username"),
				Password: c.String("password"),
			}
			token, err := a.client.Register(ctx, creds)
			if err != nil {
				return err
			}
			a.sess.SetToken(token)
			a.sess.Username = creds.Username
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered and logged in as %s\n", creds.Username)
			return nil
		},
	}
}

func logoutCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored token",
		Action: func(ctx context.Context, c *cli.Command) error {
			a.sess.Invalidate()
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func whoamiCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the logged-in user",
		Action: func(ctx context.Context, c *cli.Command) error {
			token, err := a.token()
			if err != nil {
				return err
			}
			info, err := a.client.UserInfo(ctx, token)
			if err != nil {
				return a.check(err)
			}
			return a.print(info, func(w io.Writer) {
				fmt.Fprintf(w, "%s <%s>\n", info.Username, info.Email)
			})
		},
	}
}

func deleteAccountCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "delete-account",
		Usage: "Delete the logged-in account",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm the deletion"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if !c.Bool("yes") {
				return errors.New("refusing to delete the account without --yes")
			}
			token, err := a.token()
			if err != nil {
				return err
			}
			if err := a.client.DeleteUser(ctx, token); err != nil {
				return a.check(err)
			}
			if err := a.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Account deleted")
			return nil
		},
	}
}
