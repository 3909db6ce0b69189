package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

var (
	configSetRemote    bool
	configDeleteRemote bool
	configName         bool
	configEmail        bool
	configAuth         bool
)

func init() {
	c := &cobra.Command{
		Use:   "config",
		Short: "View or change repository and user configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case configSetRemote:
				if len(args) != 2 {
					return fmt.Errorf("--set-remote requires <name> <url>")
				}
				r, err := repo.Open("")
				if err != nil {
					return err
				}
				defer r.Close()
				r.Config.SetRemote(args[0], args[1])
				if r.Config.RemoteName == "" {
					r.Config.RemoteName = args[0]
				}
				return r.SaveConfig()

			case configDeleteRemote:
				if len(args) != 1 {
					return fmt.Errorf("--delete-remote requires <name>")
				}
				r, err := repo.Open("")
				if err != nil {
					return err
				}
				defer r.Close()
				if err := r.Config.DeleteRemote(args[0]); err != nil {
					return err
				}
				return r.SaveConfig()

			case configName:
				if len(args) != 1 {
					return fmt.Errorf("--name requires <name>")
				}
				uc, err := repo.LoadUserConfig()
				if err != nil {
					return err
				}
				uc.Name = args[0]
				return uc.Save()

			case configEmail:
				if len(args) != 1 {
					return fmt.Errorf("--email requires <email>")
				}
				uc, err := repo.LoadUserConfig()
				if err != nil {
					return err
				}
				uc.Email = args[0]
				return uc.Save()

			case configAuth:
				if len(args) != 2 {
					return fmt.Errorf("--auth requires <host> <token>")
				}
				uc, err := repo.LoadUserConfig()
				if err != nil {
					return err
				}
				uc.SetToken(args[0], args[1])
				return uc.Save()

			default:
				uc, err := repo.LoadUserConfig()
				if err != nil {
					return err
				}
				fmt.Printf("name:  %s\n", uc.Name)
				fmt.Printf("email: %s\n", uc.Email)
				if r, err := repo.Open(""); err == nil {
					defer r.Close()
					fmt.Printf("remotes:\n")
					for _, rem := range r.Config.Remotes {
						fmt.Printf("  %s\t%s\n", rem.Name, rem.URL)
					}
				}
				return nil
			}
		},
	}
	c.Flags().BoolVar(&configSetRemote, "set-remote", false, "add or update a remote: --set-remote <name> <url>")
	c.Flags().BoolVar(&configDeleteRemote, "delete-remote", false, "remove a remote: --delete-remote <name>")
	c.Flags().BoolVar(&configName, "name", false, "set the committer name: --name <name>")
	c.Flags().BoolVar(&configEmail, "email", false, "set the committer email: --email <email>")
	c.Flags().BoolVar(&configAuth, "auth", false, "store a bearer token for a host: --auth <host> <token>")
	rootCmd.AddCommand(c)
}
