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
	"bufio"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"excalidesk/internal/config"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the AI credential stored in the OS keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set [value]",
	Short: "Store the AI credential (read from stdin when no value is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value string
		if len(args) == 1 {
			value = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return err
			}
			value = strings.TrimSpace(line)
		}
		if err := config.SetAICredential(value); err != nil {
			return err
		}
		pterm.Success.Println("AI credential stored in the OS keyring")
		return nil
	},
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the AI credential from the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAICredential(); err != nil {
			return err
		}
		pterm.Success.Println("AI credential removed")
		return nil
	},
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd, credentialClearCmd)
	rootCmd.AddCommand(credentialCmd)
}
