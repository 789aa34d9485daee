package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/zeit-on-tolino/internal/config"
	"github.com/JakeFAU/zeit-on-tolino/internal/tolino"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate credentials and list the supported partner shops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			rows := [][]string{
				{config.EnvTolinoUser, setOrMissing(cfg.Tolino.User)},
				{config.EnvTolinoPassword, setOrMissing(cfg.Tolino.Password)},
				{config.EnvTolinoPartnerShop, cfg.Tolino.PartnerShop},
				{config.EnvZeitUser, setOrMissing(cfg.Zeit.User)},
				{config.EnvZeitPassword, setOrMissing(cfg.Zeit.Password)},
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, renderTable([]string{"variable", "value"}, rows, nil)); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "supported partner shops: %s\n",
				strings.Join(tolino.SupportedPartners(), ", ")); err != nil {
				return err
			}
			if err := cfg.RequireAll(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, "configuration OK")
			return err
		},
	}
}

func setOrMissing(v string) string {
	if strings.TrimSpace(v) == "" {
		return "missing"
	}
	return "set"
}
