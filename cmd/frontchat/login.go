package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	frontchat "github.com/JOUDASHY/front-chat-next"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	registerEmail string
	googleCode    string
)

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "E-mail address")
	googleLoginCmd.Flags().StringVar(&googleCode, "code", "", "Code from the Google callback URL")
	googleLoginCmd.MarkFlagRequired("code")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(googleURLCmd)
	rootCmd.AddCommand(googleLoginCmd)
	rootCmd.AddCommand(resetPasswordCmd)
}

// readPassword prompts without echo when stdin is a terminal.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printSession(sess *frontchat.Session) {
	fmt.Println("Logged in.")
	fmt.Printf("  User ID:  %s\n", sess.User.ID)
	fmt.Printf("  Username: %s\n", sess.User.Username)
	if name := sess.User.DisplayName(); name != sess.User.Username {
		fmt.Printf("  Name:     %s\n", name)
	}
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sess, err := env.client.Auth.Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", describeError(err))
		}
		printSession(sess)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		if env.session != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := env.client.Presence.ReportDisconnect(ctx, env.session.UserID()); err != nil {
				logger.Debug().Err(err).Msg("disconnect report failed")
			}
		}
		if err := env.client.Auth.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account",
	Long:  "Create a new account. Registration does not log in; run 'frontchat login' afterwards.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		user, err := env.client.Auth.Register(ctx, frontchat.RegisterOptions{
			Username: args[0],
			Email:    registerEmail,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", describeError(err))
		}

		fmt.Println("Registration successful!")
		if user.ID != 0 {
			fmt.Printf("  User ID:  %s\n", user.ID)
		}
		fmt.Printf("  Username: %s\n", user.Username)
		return nil
	},
}

var googleURLCmd = &cobra.Command{
	Use:   "google-url",
	Short: "Print the Google sign-in URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		u, err := env.client.Auth.GoogleAuthURL(ctx)
		if err != nil {
			return describeError(err)
		}
		fmt.Println(u)
		fmt.Fprintln(os.Stderr, "Open the URL, then run 'frontchat google-login --code <code>' with the code from the callback.")
		return nil
	},
}

var googleLoginCmd = &cobra.Command{
	Use:   "google-login",
	Short: "Complete Google sign-in",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sess, err := env.client.Auth.LoginWithGoogle(ctx, googleCode)
		if err != nil {
			return fmt.Errorf("google login failed: %w", describeError(err))
		}
		printSession(sess)
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password <uid> <token>",
	Short: "Set a new password from a reset link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnv()
		if err != nil {
			return err
		}
		defer env.close()

		password, err := readPassword("New password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := env.client.Auth.ConfirmPasswordReset(ctx, args[0], args[1], password); err != nil {
			return fmt.Errorf("password reset failed: %w", describeError(err))
		}
		fmt.Println("Password updated. You can now log in.")
		return nil
	},
}
