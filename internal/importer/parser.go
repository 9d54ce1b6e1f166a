package importer

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Session is one workout parsed from a strength-log CSV export.
type Session struct {
	Name      string
	Date      time.Time
	Duration  time.Duration
	Exercises []Exercise
}

// Exercise is one exercise block within a parsed session.
type Exercise struct {
	Number     int
	Name       string
	Equipment  string
	TargetReps int
	Sets       []Set
}

// Set is one parsed set. BodyweightPlus marks "+N" notation where the
// weight is added load on top of bodyweight.
type Set struct {
	Number         int
	WeightKg       float64
	BodyweightPlus bool
	Reps           int
	RIR            float64
	Warmup         bool
}

var (
	// sessionHeaderRe matches: "Session Name";"2026-02-19 4:54 h";"1:02 hr"
	sessionHeaderRe = regexp.MustCompile(`^"(.+)";"(\d{4}-\d{2}-\d{2}\s+\d+:\d+)\s+h";"(.+)"$`)

	// exerciseHeaderRe matches: "1. Exercise Name · Equipment · 8 reps[· modifiers]"[;"warmup info"]
	exerciseHeaderRe = regexp.MustCompile(`^"(\d+)\.\s+(.+?)(?:\s+·\s+(\S.*?))?\s+·\s+(\d+)\s+reps(.*?)"(?:;"(.+)")?$`)

	// setDataRe matches: 1;115;8;1
	setDataRe = regexp.MustCompile(`^(\d+);(.+);(\d+);(.+)$`)

	// warmupRe matches: WU1 · 37,5 kg · 9 reps
	warmupRe = regexp.MustCompile(`WU(\d+)\s+·\s+(.+?)\s+kg\s+·\s+(\d+)\s+reps`)

	// columnHeaderRe matches: #;KG;REPS;RIR
	columnHeaderRe = regexp.MustCompile(`^#;KG;REPS;RIR$`)
)

// ParseLog reads a strength-log CSV export and returns the sessions it
// contains. Sessions are separated by blank lines; unknown lines are
// skipped (notes and other metadata).
func ParseLog(r io.Reader) ([]Session, error) {
	scanner := bufio.NewScanner(r)
	var sessions []Session
	var current *Session
	var exercise *Exercise

	flushExercise := func() {
		if current != nil && exercise != nil {
			current.Exercises = append(current.Exercises, *exercise)
		}
		exercise = nil
	}
	flushSession := func() {
		flushExercise()
		if current != nil {
			sessions = append(sessions, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			flushSession()
			continue
		}
		if columnHeaderRe.MatchString(line) {
			continue
		}

		if m := sessionHeaderRe.FindStringSubmatch(line); m != nil {
			flushSession()
			date, err := parseSessionDate(m[2])
			if err != nil {
				return nil, fmt.Errorf("parsing session date %q: %w", m[2], err)
			}
			current = &Session{
				Name:     m[1],
				Date:     date,
				Duration: parseDuration(m[3]),
			}
			continue
		}

		if m := exerciseHeaderRe.FindStringSubmatch(line); m != nil {
			if current == nil {
				return nil, fmt.Errorf("exercise without session: %q", line)
			}
			flushExercise()
			num, _ := strconv.Atoi(m[1])
			targetReps, _ := strconv.Atoi(m[4])
			exercise = &Exercise{
				Number:     num,
				Name:       strings.TrimSpace(m[2]),
				Equipment:  strings.TrimSpace(m[3]),
				TargetReps: targetReps,
			}
			if m[6] != "" {
				exercise.Sets = append(exercise.Sets, parseWarmups(m[6])...)
			}
			continue
		}

		if m := setDataRe.FindStringSubmatch(line); m != nil {
			if exercise == nil {
				return nil, fmt.Errorf("set data without exercise: %q", line)
			}
			setNum, _ := strconv.Atoi(m[1])
			weight, plusBW := parseWeight(m[2])
			reps, _ := strconv.Atoi(m[3])
			exercise.Sets = append(exercise.Sets, Set{
				Number:         setNum,
				WeightKg:       weight,
				BodyweightPlus: plusBW,
				Reps:           reps,
				RIR:            parseEuropeanFloat(m[4]),
			})
			continue
		}
	}

	flushSession()
	return sessions, scanner.Err()
}

// parseSessionDate parses "2026-02-19 4:54" into a time.Time.
func parseSessionDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 3:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q", s)
}

// parseDuration parses "1:02 hr" or "48 min" into a duration. Unparseable
// input yields zero rather than failing the whole import.
func parseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "hr"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "hr"))
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return 0
		}
		h, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	case strings.HasSuffix(s, "min"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "min"))
		m, _ := strconv.Atoi(s)
		return time.Duration(m) * time.Minute
	default:
		return 0
	}
}

// parseWarmups extracts warmup sets from the warmup info string.
// Example: "WU1 · 37,5 kg · 9 reps<br>WU2 · 72,5 kg · 7 reps"
func parseWarmups(s string) []Set {
	var sets []Set
	for _, part := range strings.Split(s, "<br>") {
		m := warmupRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		weight, plusBW := parseWeight(m[2])
		reps, _ := strconv.Atoi(m[3])
		sets = append(sets, Set{
			Number:         num,
			WeightKg:       weight,
			BodyweightPlus: plusBW,
			Reps:           reps,
			Warmup:         true,
		})
	}
	return sets
}

// parseWeight handles European decimals and bodyweight-plus notation.
// "+35" -> (35, true), "102,5" -> (102.5, false), "+0" -> (0, true)
func parseWeight(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") {
		return parseEuropeanFloat(s[1:]), true
	}
	return parseEuropeanFloat(s), false
}

// parseEuropeanFloat converts a European decimal string to float64.
// "102,5" -> 102.5, "0,5" -> 0.5
func parseEuropeanFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
