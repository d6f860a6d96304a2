// Command facectl inspects and purges stored enrollment face records.
//
//	facectl [--config path] show <user_id>
//	facectl [--config path] purge <user_id> [--yes]
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/internal/vision"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (optional)")
	yes := pflag.BoolP("yes", "y", false, "skip the purge confirmation")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: facectl [flags] show|purge <user_id>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 2 {
		pflag.Usage()
		os.Exit(2)
	}
	cmd, userID := pflag.Arg(0), pflag.Arg(1)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, "text")

	if err := storage.ValidateUserID(userID); err != nil {
		fmt.Fprintf(os.Stderr, "%q: %v\n", userID, err)
		os.Exit(1)
	}

	ctx := context.Background()
	records, closeRecords, err := openRecords(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open records: %v\n", err)
		os.Exit(1)
	}
	defer closeRecords()

	switch cmd {
	case "show":
		err = show(ctx, records, cfg.Vision.SimilarityThreshold, userID)
	case "purge":
		if !*yes && !confirm(userID) {
			fmt.Println("aborted")
			return
		}
		err = purge(ctx, cfg, records, userID)
	default:
		pflag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func openRecords(cfg *config.Config) (storage.RecordStore, func(), error) {
	if cfg.Storage.Backend == "postgres" {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	fs, err := storage.NewFileStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func openObjects(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Objects == "minio" {
		return storage.NewMinIOStore(cfg.MinIO)
	}
	return storage.NewDiskStore(cfg.Storage.UploadDir)
}

func show(ctx context.Context, records storage.RecordStore, threshold float64, userID string) error {
	faces, err := records.LoadFaces(ctx, userID)
	if err != nil {
		return err
	}
	hashes, err := records.LoadHashes(ctx, userID)
	if err != nil {
		return err
	}
	if len(faces) == 0 && len(hashes) == 0 {
		fmt.Printf("no records for user %s\n", userID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tENCODINGS\tHASH")
	for _, label := range labels(faces, hashes) {
		hash := hashes[label]
		if len(hash) > 16 {
			hash = hash[:16] + "…"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", label, len(faces[label]), hash)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Closest pair per label pair; anything under the threshold would have
	// been rejected had both been uploaded today.
	pairs := closestPairs(faces)
	if len(pairs) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL A\tLABEL B\tDISTANCE\tCOSINE\tSIMILAR")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%v\n", p.a, p.b, p.distance, p.cosine, p.distance < threshold)
	}
	return w.Flush()
}

type pair struct {
	a, b     string
	distance float64
	cosine   float32
}

func closestPairs(rec models.UserFaceRecord) []pair {
	names := labels(rec, nil)
	var out []pair
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			best := pair{a: names[i], b: names[j], distance: -1}
			for _, x := range rec[names[i]] {
				for _, y := range rec[names[j]] {
					if d := x.Distance(y); best.distance < 0 || d < best.distance {
						best.distance = d
						best.cosine = vision.CosineSimilarity(x, y)
					}
				}
			}
			if best.distance >= 0 {
				out = append(out, best)
			}
		}
	}
	return out
}

func labels(faces models.UserFaceRecord, hashes models.UserHashRecord) []string {
	seen := map[string]bool{}
	for l := range faces {
		seen[l] = true
	}
	for l := range hashes {
		seen[l] = true
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func confirm(userID string) bool {
	fmt.Printf("Delete all face records, hashes and files of user %s? [y/N] ", userID)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

func purge(ctx context.Context, cfg *config.Config, records storage.RecordStore, userID string) error {
	objects, err := openObjects(cfg)
	if err != nil {
		return err
	}
	n, err := files.PurgeUser(ctx, records, files.NewService(objects), userID)
	if err != nil {
		return err
	}
	fmt.Printf("purged user %s: %d files removed\n", userID, n)
	return nil
}
