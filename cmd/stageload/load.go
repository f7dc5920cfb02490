package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/permission"
	"github.com/JonMunkholm/stageload/internal/reader"
	"github.com/JonMunkholm/stageload/internal/settings"
)

type loadFlags struct {
	fileType  string
	namespace string
	append    bool
	recreate  bool
	skipCheck bool
	move      bool
	parallel  int
}

func newLoadCmd() *cobra.Command {
	var f loadFlags

	cmd := &cobra.Command{
		Use:   "load FILE|DIR...",
		Short: "Load CSV files into their staging tables",
		Long: `Load one or more CSV files. A directory stands for the .csv files directly
inside it. Each file's type is detected from its header unless --type is given. Files are loaded concurrently; files that target the
same table are loaded one after another, and without --append each one
replaces the rows of the previous.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			return runLoad(ctx, a, cmd.OutOrStdout(), args, f)
		},
	}

	cmd.Flags().StringVarP(&f.fileType, "type", "t", "", "File type for every file (default: detect from the header)")
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "Destination schema for tables without one (default: LOAD_DEFAULT_NAMESPACE)")
	cmd.Flags().BoolVar(&f.append, "append", false, "Keep existing rows when the table matches")
	cmd.Flags().BoolVar(&f.recreate, "recreate", false, "Rebuild tables even when they match")
	cmd.Flags().BoolVar(&f.skipCheck, "skip-check", false, "Skip the permission check")
	cmd.Flags().BoolVar(&f.move, "move", false, "Move each loaded file into an Uploaded directory beside it")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 4, "Files loaded at once")
	return cmd
}

// fileOutcome is the result line for one input file.
type fileOutcome struct {
	path    string
	message string
	ok      bool
}

func runLoad(ctx context.Context, a *app, out io.Writer, args []string, f loadFlags) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no .csv files in %s", strings.Join(args, ", "))
	}

	ns := f.namespace
	if ns == "" {
		ns = a.cfg.Load.DefaultNamespace
	}

	outcomes := make([]fileOutcome, len(paths))
	requests := make([]*core.LoadRequest, len(paths))
	for i, path := range paths {
		req, err := prepareFile(path, f.fileType, ns, a.settings)
		if err != nil {
			outcomes[i] = fileOutcome{path: path, message: core.FormatUserError(err) + "\n" + err.Error()}
			continue
		}
		req.Append = f.append
		req.ForceRecreate = f.recreate
		requests[i] = req
	}

	if !f.skipCheck {
		if err := checkNamespaces(ctx, a, out, requestNamespaces(requests)); err != nil {
			return err
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(max(f.parallel, 1))
	for i, req := range requests {
		if req == nil {
			continue
		}
		i, req := i, req
		g.Go(func() error {
			res := a.service.Load(ctx, *req)
			o := fileOutcome{path: paths[i], message: res.Message, ok: res.Success}
			if res.Success && f.move {
				if dest, err := moveLoaded(paths[i]); err != nil {
					o.message += "\n" + err.Error()
				} else {
					o.message += "\nMoved to " + dest
				}
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		mark := "OK  "
		if !o.ok {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "[%s] %s\n       %s\n", mark, o.path, indent(o.message))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

// prepareFile reads path and builds its load request. An empty fileType
// is detected from the header.
func prepareFile(path, fileType, namespace string, st *settings.Settings) (*core.LoadRequest, error) {
	file, err := reader.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if fileType == "" {
		detected, ok := reader.DetectFileType(file, st)
		if !ok {
			return nil, fmt.Errorf("%w: no configured type matches the header of %s", settings.ErrUnknownFileType, file.Name)
		}
		fileType = detected
	}
	ft, err := st.Lookup(fileType)
	if err != nil {
		return nil, err
	}
	if missing := reader.MissingColumns(file, ft); len(missing) > 0 {
		return nil, fmt.Errorf("invalid csv: %s is missing columns %v", ft.Name, missing)
	}

	req := reader.Request(file, ft, namespace)
	return &req, nil
}

func requestNamespaces(reqs []*core.LoadRequest) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range reqs {
		if r == nil || seen[r.Table.Schema] {
			continue
		}
		seen[r.Table.Schema] = true
		out = append(out, r.Table.Schema)
	}
	sort.Strings(out)
	return out
}

// checkNamespaces runs the permission check for each namespace and
// prints the report of the first one that fails.
func checkNamespaces(ctx context.Context, a *app, out io.Writer, namespaces []string) error {
	for _, ns := range namespaces {
		report, err := permission.Check(ctx, a.store, ns)
		if err != nil {
			return err
		}
		if !report.Passed {
			fmt.Fprint(out, report.Text())
			return report.Err()
		}
	}
	return nil
}

// indent aligns continuation lines of a multi-line message under the
// first line of its result entry.
func indent(msg string) string {
	return strings.ReplaceAll(strings.TrimRight(msg, "\n"), "\n", "\n       ")
}
