package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrdadan/uicheck/internal/fixture"
)

func newFixtureCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Serve the bundled login page used by testdata/login.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			site := fixture.New(fixture.DefaultCredentials)
			go func() {
				<-cmd.Context().Done()
				_ = site.Shutdown()
			}()

			fmt.Fprintf(a.errOut, "Fixture site listening on %s (login %s / %s)\n",
				addr, fixture.DefaultCredentials.Email, fixture.DefaultCredentials.Password)
			if err := site.Listen(addr); err != nil {
				return harnessError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}
