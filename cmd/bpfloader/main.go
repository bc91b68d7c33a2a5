// Program bpfloader drives one EBO load from the command line.
// Argument handling here is deliberately thin; all the interesting
// decisions live in the bpfloader package.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AtomXCLO/android-system-bpf"
)

var allowedNames = map[string]bpfloader.ProgramType{
	"unspecified":   bpfloader.ProgramTypeUnspec,
	"socket_filter": bpfloader.ProgramTypeSocketFilter,
	"kprobe":        bpfloader.ProgramTypeKprobe,
	"sched_cls":     bpfloader.ProgramTypeSchedCLS,
	"sched_act":     bpfloader.ProgramTypeSchedACT,
	"tracepoint":    bpfloader.ProgramTypeTracepoint,
	"xdp":           bpfloader.ProgramTypeXDP,
	"perf_event":    bpfloader.ProgramTypePerfEvent,
	"cgroup_skb":    bpfloader.ProgramTypeCgroupSKB,
	"cgroup_sock":   bpfloader.ProgramTypeCgroupSock,
	"fuse":          bpfloader.ProgramTypeFuse,
}

func main() {
	var prefix string
	var allowed []string
	var verbose bool

	root := &cobra.Command{
		Use:   "bpfloader <ebo-path>",
		Short: "Load an EBO's maps and programs into the kernel and pin them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.StandardLogger()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			loc := bpfloader.Location{Prefix: prefix}
			if len(allowed) > 0 {
				loc.Allowed = make([]bpfloader.ProgramType, 0, len(allowed))
				for _, a := range allowed {
					t, ok := allowedNames[a]
					if !ok {
						return fmt.Errorf("unknown program type %q", a)
					}
					loc.Allowed = append(loc.Allowed, t)
				}
			}

			var isCritical bool
			if err := bpfloader.Load(args[0], &isCritical, loc, bpfloader.Options{Log: log}); err != nil {
				return err
			}
			if isCritical {
				log.Info("loaded critical EBO")
			}
			return nil
		},
	}

	root.Flags().StringVar(&prefix, "prefix", "", "pin path prefix under /sys/fs/bpf/")
	root.Flags().StringSliceVar(&allowed, "allow", nil, "permitted program types (default: all)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
