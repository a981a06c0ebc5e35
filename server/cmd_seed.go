package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	opts := seedOptions{}
	var users string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write encrypted demo records into the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, logger, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.close() }()

			if err := a.connectStoreOnce(ctx); err != nil {
				return err
			}
			opts.Users = strings.Split(users, ",")
			opts.End = time.Now().UTC()
			stats, err := a.seed(ctx, opts)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(),
				"Seeded %d keystrokes, %d clipboard entries and %d screenshots for %d users\n",
				stats.Keystrokes, stats.Clipboard, stats.Screenshots, len(opts.Users))
			return nil
		},
	}

	cmd.Flags().StringVar(&users, "users", "alice,bob,carol", "comma separated usernames")
	cmd.Flags().IntVar(&opts.Days, "days", 7, "number of days to cover, ending today")
	cmd.Flags().IntVar(&opts.BurstsPerDay, "bursts", 6, "typing bursts per user and day")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}

type seedOptions struct {
	Users        []string
	Days         int
	BurstsPerDay int
	Seed         uint64
	End          time.Time
}

var (
	seedPhrases = []string{
		"quarterly report draft", "meeting notes for monday", "login admin", "my password is hunter2",
		"send to jane.doe@example.com", "lunch at noon?", "fix the build", "bank transfer reference",
	}
	seedClipboard = []string{
		"https://intranet.example.com/wiki", "4111 1111 1111 1111", "SELECT * FROM customers",
		"ssn 123-45-6789", "see attached invoice", "routing number 021000021",
	}
	seedResolutions = []string{"1920x1080", "2560x1440", "1366x768"}
)

type seedStats struct {
	Keystrokes  int
	Clipboard   int
	Screenshots int
}

// seed writes deterministic demo records for opts.Users. Content fields are
// encrypted; screenshot payloads go to the blob store when one is configured.
func (a *app) seed(ctx context.Context, opts seedOptions) (seedStats, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	days := max(opts.Days, 1)
	bursts := max(opts.BurstsPerDay, 1)
	endDay := time.Date(opts.End.Year(), opts.End.Month(), opts.End.Day(), 0, 0, 0, 0, time.UTC)

	var (
		keys  []database.KeystrokeRecord
		clips []database.ClipboardRecord
		shots []database.ScreenshotRecord
		stats seedStats
	)
	for _, user := range opts.Users {
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}
		ip := fmt.Sprintf("10.0.%d.%d", rng.IntN(255), 1+rng.IntN(254))
		for d := range days {
			day := endDay.AddDate(0, 0, -d)
			for range bursts {
				ts := day.Add(time.Duration(8*3600+rng.IntN(10*3600)) * time.Second)
				for _, word := range strings.Fields(seedPhrases[rng.IntN(len(seedPhrases))]) {
					blob, err := a.codec.Encrypt(word + " ")
					if err != nil {
						return stats, err
					}
					keys = append(keys, database.KeystrokeRecord{ID: uuid.NewString(), User: user, IP: ip, Timestamp: ts, Keystroke: blob})
					ts = ts.Add(time.Duration(200+rng.IntN(1000)) * time.Millisecond)
				}
			}
			for range 2 {
				blob, err := a.codec.Encrypt(seedClipboard[rng.IntN(len(seedClipboard))])
				if err != nil {
					return stats, err
				}
				ts := day.Add(time.Duration(8*3600+rng.IntN(10*3600)) * time.Second)
				clips = append(clips, database.ClipboardRecord{ID: uuid.NewString(), User: user, IP: ip, Timestamp: ts, Clipboard: blob})
			}

			shot, err := a.seedScreenshot(ctx, user, ip, day.Add(time.Duration(9*3600+rng.IntN(8*3600))*time.Second), seedResolutions[rng.IntN(len(seedResolutions))])
			if err != nil {
				return stats, err
			}
			shots = append(shots, shot)
		}
	}

	if err := a.store.InsertKeystrokes(ctx, keys); err != nil {
		return stats, err
	}
	if err := a.store.InsertClipboard(ctx, clips); err != nil {
		return stats, err
	}
	if err := a.store.InsertScreenshots(ctx, shots); err != nil {
		return stats, err
	}
	return seedStats{Keystrokes: len(keys), Clipboard: len(clips), Screenshots: len(shots)}, nil
}

func (a *app) seedScreenshot(ctx context.Context, user, ip string, ts time.Time, resolution string) (database.ScreenshotRecord, error) {
	rec := database.ScreenshotRecord{ID: uuid.NewString(), User: user, IP: ip, Timestamp: ts, Resolution: resolution}
	image := base64.StdEncoding.EncodeToString([]byte("demo screenshot " + rec.ID))
	blob, err := a.codec.Encrypt(image)
	if err != nil {
		return rec, err
	}
	if a.blobs == nil {
		rec.Screenshot = blob
		return rec, nil
	}
	rec.ObjectName, err = a.blobs.PutScreenshot(ctx, rec.ID, blob)
	return rec, err
}
