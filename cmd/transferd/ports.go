package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/serial"
)

// newPortsCmd lists serial devices a controller could be attached to.
func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports available for the motion controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return fmt.Errorf("listing serial ports: %w", err)
			}
			if len(ports) == 0 {
				return errors.New("no serial ports found; check the controller's USB cable")
			}
			for _, p := range ports {
				fmt.Fprintf(cmd.OutOrStdout(), "serial://%s\n", p)
			}
			return nil
		},
	}
}
