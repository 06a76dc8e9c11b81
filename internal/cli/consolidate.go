package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/consolidate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate [job]",
		Short: "Run maintenance: decay, dedup, pattern, full",
		Long: "Run one maintenance job and exit, or run without args to start the\n" +
			"background scheduler (decay plus a periodic full pass) until interrupted.",
		Args: cobra.MaximumNArgs(1),
		Run:  runConsolidate,
	}
	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	s, cfg := openStore()
	defer s.Close()

	ctx := cmd.Context()
	now := time.Now()

	if len(args) == 0 {
		sched := consolidate.New(s, cfg.Consolidate)
		sched.Start()
		log.Info("scheduler started", "decay_interval", cfg.Consolidate.DecayInterval, "full_interval", cfg.Consolidate.FullInterval)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		sched.Stop()
		return
	}

	switch args[0] {
	case "decay":
		sum, err := s.RunDecay(ctx, now)
		if err != nil {
			exitErr("decay", err)
		}
		printJSON(sum)
	case "dedup":
		sum, err := s.RunDedupSweep(ctx)
		if err != nil {
			exitErr("dedup", err)
		}
		printJSON(sum)
	case "pattern":
		sum, err := s.RunPatternMaintenance(ctx, now)
		if err != nil {
			exitErr("pattern", err)
		}
		printJSON(sum)
	case "full":
		sums, err := s.RunFull(ctx, now)
		if err != nil {
			exitErr("full", err)
		}
		printJSON(sums)
	default:
		exitErr("consolidate", fmt.Errorf("unknown job %q (want decay, dedup, pattern, or full)", args[0]))
	}
}
