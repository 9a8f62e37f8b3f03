/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var downloadJobs int

var downloadCmd = &cobra.Command{
	Use:   "download <path>...",
	Short: "Materialize cloud-only drawings locally",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := rt.coordinator(cmd.Context(), nil)
		if err != nil {
			return err
		}
		var mu sync.Mutex
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(downloadJobs, 1))
		for _, p := range args {
			g.Go(func() error {
				start := time.Now()
				last := -25
				err := files.DownloadFile(ctx, p, func(f float64) {
					pct := int(f * 100)
					mu.Lock()
					defer mu.Unlock()
					if pct/25 != last/25 {
						last = pct
						pterm.Info.Printfln("%s %3d%%", p, pct)
					}
				})
				rt.tel.Event("download", map[string]any{"ok": err == nil, "duration_ms": time.Since(start).Milliseconds()})
				if err != nil {
					pterm.Error.Printfln("%s: %v", p, err)
					return err
				}
				pterm.Success.Printfln("%s", p)
				return nil
			})
		}
		return g.Wait()
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict <path>...",
	Short: "Drop local copies of cloud drawings, keeping the remote copy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := rt.coordinator(cmd.Context(), nil)
		if err != nil {
			return err
		}
		var failed int
		for _, p := range args {
			if err := files.EvictLocalCopy(cmd.Context(), p); err != nil {
				pterm.Error.Printfln("%s: %v", p, err)
				failed++
				continue
			}
			pterm.Success.Printfln("%s", p)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d evictions failed", failed, len(args))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <path>...",
	Short: "Show the sync status of drawings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := rt.coordinator(cmd.Context(), nil)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Path", "Status"}}
		for _, p := range args {
			st, err := files.Status(cmd.Context(), p)
			if err != nil {
				data = append(data, []string{p, "error: " + err.Error()})
				continue
			}
			data = append(data, []string{p, string(st)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var trashCmd = &cobra.Command{
	Use:   "trash <path>",
	Short: "Move a drawing to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := rt.coordinator(cmd.Context(), nil)
		if err != nil {
			return err
		}
		dest, err := files.Trash(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		pterm.Success.Printfln("moved to %s", dest)
		return nil
	},
}

func init() {
	downloadCmd.Flags().IntVarP(&downloadJobs, "jobs", "j", 4, "parallel downloads")
	rootCmd.AddCommand(downloadCmd, evictCmd, statusCmd, trashCmd)
}
