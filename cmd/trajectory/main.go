package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lockstep.ai/internal/persistence/export"
	"lockstep.ai/internal/persistence/indexdb"
	"lockstep.ai/internal/persistence/objectstore"
	"lockstep.ai/internal/persistence/trajectory"
)

func main() {
	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd := &cobra.Command{
		Use:          "trajectory",
		Short:        "Inspect and export recorded bridge trajectories",
		SilenceUsage: true,
	}

	var dir string
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "./data/trajectory", "trajectory directory")

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Count episodes, steps, faults and end reasons in the trajectory files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return summary(dir)
		},
	}

	var (
		indexPath string
		limit     int
	)
	episodesCmd := &cobra.Command{
		Use:   "episodes",
		Short: "List recent episodes from the sqlite index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return episodes(cmd.Context(), indexPath, limit)
		},
	}
	episodesCmd.Flags().StringVar(&indexPath, "index", "./data/index/bridge.sqlite", "sqlite index path")
	episodesCmd.Flags().IntVar(&limit, "limit", 20, "max episodes (0 = all)")

	var (
		out    string
		upload uploadTarget
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write every recorded step to a parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := exportParquet(dir, out); err != nil {
				return err
			}
			if upload.endpoint == "" {
				return nil
			}
			return upload.put(cmd.Context(), out)
		},
	}
	exportCmd.Flags().StringVar(&out, "out", "./data/export/steps.parquet", "output parquet path")
	exportCmd.Flags().StringVar(&upload.endpoint, "endpoint", "", "S3-compatible endpoint to upload the export to (optional)")
	exportCmd.Flags().StringVar(&upload.bucket, "bucket", "", "bucket for --endpoint")
	exportCmd.Flags().StringVar(&upload.region, "region", "", "signing region (default auto)")
	exportCmd.Flags().StringVar(&upload.prefix, "prefix", "exports", "object key prefix")

	rootCmd.AddCommand(summaryCmd, episodesCmd, exportCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func summary(dir string) error {
	files, err := trajectory.Files(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no trajectory files found in %s", dir)
	}

	var (
		episodes, steps, deaths int
		activations             = map[string]bool{}
		faults                  = map[string]int{}
		reasons                 = map[string]int{}
	)
	err = trajectory.ReadDir(dir, func(r trajectory.Record) error {
		switch r.Kind {
		case trajectory.KindEpisodeStart:
			episodes++
			if r.Episode != nil {
				activations[r.Episode.ActivationID] = true
			}
		case trajectory.KindStep:
			steps++
			if r.Step != nil {
				if r.Step.PlayerDied {
					deaths++
				}
				if r.Step.Fault != "" {
					faults[r.Step.Fault]++
				}
			}
		case trajectory.KindEpisodeEnd:
			reasons[r.Reason]++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("files=%d activations=%d episodes=%d steps=%d death_frames=%d\n", len(files), len(activations), episodes, steps, deaths)
	printCounts("end reasons", reasons)
	printCounts("faults", faults)
	return nil
}

func printCounts(title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, m[k])
	}
}

func episodes(ctx context.Context, path string, limit int) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := idx.Episodes(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	levels, err := idx.Levels(ctx)
	if err != nil {
		return err
	}
	for _, l := range levels {
		fmt.Printf("level %-8s steps=%d deaths=%d\n", l.Level, l.Steps, l.Deaths)
	}
	return nil
}

func exportParquet(dir, out string) error {
	rows, err := export.FromTrajectory(dir)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no steps found in %s", dir)
	}
	if err := export.WriteParquet(out, rows); err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s\n", len(rows), out)
	return nil
}

type uploadTarget struct {
	endpoint, bucket, region, prefix string
}

func (u uploadTarget) put(ctx context.Context, localPath string) error {
	client, err := objectstore.New(u.endpoint, u.bucket, u.region, objectstore.Credentials{
		AccessKeyID:     os.Getenv("LOCKSTEP_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("LOCKSTEP_MIRROR_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := path.Join(u.prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z")+"-"+filepath.Base(localPath))
	if err := client.PutFile(ctx, key, localPath); err != nil {
		return err
	}
	fmt.Printf("uploaded %s to %s/%s\n", localPath, u.bucket, key)
	return nil
}
