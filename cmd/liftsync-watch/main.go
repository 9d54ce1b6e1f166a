// Command liftsync-watch is a terminal stand-in for the wrist companion:
// it drives the companion state machine against a running liftsyncd and
// maps keyboard commands onto the watch gestures.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/claude/liftsync/internal/companion"
	"github.com/claude/liftsync/internal/transport"
	"github.com/claude/liftsync/internal/transport/httplink"
	"github.com/claude/liftsync/internal/wire"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "liftsyncd base URL")
	apiKey := flag.String("api-key", os.Getenv("LIFTSYNC_AUTH_API_KEY"), "API key (or LIFTSYNC_AUTH_API_KEY)")
	pingSec := flag.Int("ping", 5, "reachability probe interval in seconds")
	timeoutSec := flag.Int("timeout", 10, "request timeout in seconds")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "an API key is required (-api-key or LIFTSYNC_AUTH_API_KEY)")
		os.Exit(1)
	}

	client := httplink.NewClient(*url, *apiKey, time.Duration(*pingSec)*time.Second, log)
	defer client.Close()
	tr := transport.New(client, time.Duration(*timeoutSec)*time.Second, log)
	sm := companion.NewStateMachine(tr, log)
	ic := companion.NewInputController(sm, log)

	sm.OnScreen(func(s companion.Screen) {
		fmt.Printf("\n== %s ==\n", s)
	})
	sm.OnToday(func(st companion.TodayState) {
		fmt.Println(renderToday(st))
	})
	sm.OnWorkout(func(w companion.WorkoutState) {
		if out := renderWorkout(w); out != "" {
			fmt.Println(out)
		}
	})
	sm.OnPR(func(pr wire.PRDescriptor) {
		fmt.Printf("** PR! %s %s %.1f (+%.1f)\n", pr.Exercise, pr.Metric, pr.Value, pr.Improvement)
	})
	sm.OnError(func(text string) {
		fmt.Printf("!! %s\n", text)
	})

	ctx := context.Background()
	sm.Activate(ctx)

	fmt.Println("liftsync-watch — type 'help' for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if !dispatch(ctx, strings.TrimSpace(scanner.Text()), sm, ic) {
			return
		}
	}
}

func dispatch(ctx context.Context, cmd string, sm *companion.StateMachine, ic *companion.InputController) bool {
	var err error
	switch cmd {
	case "", "screen":
		fmt.Printf("screen: %s  input: %s\n", sm.CurrentScreen(), renderInput(sm.Input()))
	case "today":
		sm.RefreshToday(ctx)
	case "start":
		err = ic.StartWorkout(ctx)
	case "rehearse":
		sm.StartRehearsal()
	case "w+":
		ic.AdjustWeight(companion.WeightStep)
		fmt.Println(renderInput(sm.Input()))
	case "w-":
		ic.AdjustWeight(-companion.WeightStep)
		fmt.Println(renderInput(sm.Input()))
	case "r+":
		ic.AdjustReps(1)
		fmt.Println(renderInput(sm.Input()))
	case "r-":
		ic.AdjustReps(-1)
		fmt.Println(renderInput(sm.Input()))
	case "warmup":
		ic.ToggleWarmup()
		fmt.Println(renderInput(sm.Input()))
	case "log":
		err = ic.LogSet(ctx)
	case "next":
		err = ic.AdvanceExercise(ctx)
	case "prev":
		err = ic.RetreatExercise(ctx)
	case "done":
		err = ic.CompleteWorkout(ctx)
	case "back":
		sm.Back()
	case "help":
		fmt.Println("commands: today start rehearse w+ w- r+ r- warmup log next prev done back screen quit")
	case "quit", "exit":
		return false
	default:
		fmt.Printf("unknown command %q (try 'help')\n", cmd)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
	return true
}

func renderToday(st companion.TodayState) string {
	switch s := st.(type) {
	case companion.TodayLoading:
		return "today: loading..."
	case companion.TodayRestDay:
		return "today: " + s.Message
	case companion.TodayPlanned:
		return fmt.Sprintf("today: %s (%d exercises, ~%d min)",
			s.Snapshot.Name, s.Snapshot.ExerciseCount, s.Snapshot.EstimatedMinutes)
	case companion.TodayLoadError:
		return "today: error: " + s.Reason
	default:
		return ""
	}
}

func renderWorkout(w companion.WorkoutState) string {
	switch s := w.(type) {
	case companion.WorkoutLoading:
		return "workout: loading..."
	case companion.WorkoutActive:
		snap := s.Snapshot
		tag := ""
		if s.Rehearsal {
			tag = " [rehearsal]"
		}
		ex := snap.CurrentExercise()
		if ex == nil {
			return fmt.Sprintf("workout: %s%s — all exercises done (%d sets, %.0f kg volume)",
				snap.Name, tag, snap.TotalSets, snap.TotalVolume)
		}
		line := fmt.Sprintf("workout: %s%s — %d/%d %s (%d sets logged)",
			snap.Name, tag, snap.CurrentExerciseIndex+1, len(snap.Exercises), ex.Name, len(ex.Sets))
		if ex.PreviousBest != "" {
			line += " — last: " + ex.PreviousBest
		}
		return line
	case companion.WorkoutCompleted:
		return fmt.Sprintf("summary: %d sets, %.0f kg volume, %d PRs, %d min",
			s.Summary.TotalSets, s.Summary.TotalVolume, s.Summary.PRCount, s.Summary.DurationSec/60)
	case companion.WorkoutLoadError:
		return "workout: error: " + s.Reason
	default:
		return ""
	}
}

func renderInput(in companion.InputBuffer) string {
	warm := ""
	if in.Warmup {
		warm = " (warmup)"
	}
	return fmt.Sprintf("input: %g kg x %d%s", in.Weight, in.Reps, warm)
}
