package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CheckCmd validates a configuration file.
// Usage: disaster-manager check-config -c printer.cfg
type CheckCmd struct {
	Config string `short:"c" long:"config" description:"printer.cfg or OctoPrint config.yaml" required:"true"`
}

func (c *CheckCmd) Execute(_ []string) error {
	loaded, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(loaded.Settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: ok\n%s", c.Config, out)
	if enc := loaded.Encoder; enc != nil {
		fmt.Fprintf(os.Stdout, "filament encoder: gpio%d %s edge, tool %d, %g mm/pulse, debounce %v\n",
			enc.Pin, enc.Edge, enc.Tool, enc.MMPerPulse, enc.Debounce)
	}
	return nil
}
