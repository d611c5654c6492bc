package main

import (
	"context"
	"fmt"
	"time"

	frontchat "github.com/JOUDASHY/front-chat-next"
	"github.com/spf13/cobra"
)

var (
	profileEmail     string
	profileFirstName string
	profileLastName  string
	profileLocation  string
	profileBirthDate string
	profileStatus    string
	profilePassion   string
	profileImage     string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		me, err := env.client.Profile.Get(ctx)
		if err != nil {
			return describeError(err)
		}
		if jsonOutput {
			return printJSON(me)
		}
		printUser(me)
		return nil
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update profile fields",
	Long:  "Update your profile. Only the flags you pass change; everything else keeps its current value.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := mustSession()
		defer env.close()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		current, err := env.client.Profile.Get(ctx)
		if err != nil {
			return describeError(err)
		}
		upd := frontchat.ProfileUpdateFrom(*current)

		flags := cmd.Flags()
		set := func(name string, dst *string, val string) {
			if flags.Changed(name) {
				*dst = val
			}
		}
		set("email", &upd.Email, profileEmail)
		set("first-name", &upd.FirstName, profileFirstName)
		set("last-name", &upd.LastName, profileLastName)
		set("location", &upd.Location, profileLocation)
		set("birth-date", &upd.BirthDate, profileBirthDate)
		set("status", &upd.Status, profileStatus)
		set("passion", &upd.Passion, profilePassion)
		if profileImage != "" {
			img, err := frontchat.AttachmentFromFile(profileImage)
			if err != nil {
				return err
			}
			upd.Image = img
		}

		updated, err := env.client.Profile.Update(ctx, upd)
		if err != nil {
			return fmt.Errorf("profile update failed: %w", describeError(err))
		}
		fmt.Println("Profile updated.")
		printUser(updated)
		return nil
	},
}

func init() {
	profileCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	f := profileUpdateCmd.Flags()
	f.StringVar(&profileEmail, "email", "", "E-mail address")
	f.StringVar(&profileFirstName, "first-name", "", "First name")
	f.StringVar(&profileLastName, "last-name", "", "Last name")
	f.StringVar(&profileLocation, "location", "", "Location")
	f.StringVar(&profileBirthDate, "birth-date", "", "Birth date (YYYY-MM-DD)")
	f.StringVar(&profileStatus, "status", "", "Status line")
	f.StringVar(&profilePassion, "passion", "", "Passion")
	f.StringVar(&profileImage, "image", "", "Profile picture file")

	profileCmd.AddCommand(profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}
