// disaster-manager is the host-side filament odometer and jam guard. It
// follows the printer through a JSON-RPC host link, counts extrusion per
// tool from G-code and from a filament sensor, and asks the host to pause
// when the two drift apart.
//
// Usage:
//
//	disaster-manager serve -c ~/printer.cfg [options]
//	disaster-manager replay -c ~/printer.cfg print.gcode
//	disaster-manager history --db ~/.disaster/history.db
//	disaster-manager check-config -c ~/printer.cfg
//
// Examples:
//
//	# Serve with a history database and Prometheus metrics
//	disaster-manager serve -c ~/printer.cfg --history ~/.disaster/history.db
//
//	# Count filament in a sliced file, two extruders
//	disaster-manager replay --tools 2 benchy.gcode
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}
