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
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"excalidesk/internal/library"
)

var checkpointLimit int

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Save, list and restore drawing checkpoints",
}

func withService(cmd *cobra.Command, fn func(*library.Service) error) error {
	files, err := rt.coordinator(cmd.Context(), nil)
	if err != nil {
		return err
	}
	store, err := rt.openLibrary(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(library.NewService(store, files, rt.cfg.Library.KeepCheckpoint))
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Store the current contents of a drawing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *library.Service) error {
			cp, err := svc.Checkpoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pterm.Success.Printfln("checkpoint %s (%d bytes)", cp.ID, cp.Size)
			return nil
		})
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <path>",
	Short: "List checkpoints of a drawing, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *library.Service) error {
			cps, err := svc.History(cmd.Context(), args[0], checkpointLimit)
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				pterm.Info.Println("no checkpoints")
				return nil
			}
			data := pterm.TableData{{"ID", "Created", "Size"}}
			for _, cp := range cps {
				data = append(data, []string{cp.ID, cp.CreatedAt.Local().Format(time.DateTime), strconv.FormatInt(cp.Size, 10)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Write a checkpoint back to its drawing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *library.Service) error {
			d, err := svc.Restore(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			pterm.Success.Printfln("restored %s", d.Path)
			return nil
		})
	},
}

func init() {
	checkpointListCmd.Flags().IntVar(&checkpointLimit, "limit", 20, "maximum checkpoints to list")
	checkpointCmd.AddCommand(checkpointSaveCmd, checkpointListCmd, checkpointRestoreCmd)
	rootCmd.AddCommand(checkpointCmd)
}
