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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"excalidesk/internal/bridge"
	"excalidesk/internal/genai"
	"excalidesk/internal/mainloop"
)

var (
	genKind   string
	genStream bool
	genImage  string
	genTheme  string
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run one AI generation through the native bridge and print the result",
	Long: `Generate sends one request through the same bridge the canvas uses. With
--type text-to-diagram (default) the prompt is turned into diagram markup; with
--type diagram-to-code the prompt is the diagram's text and --image an optional image file.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genKind, "type", string(bridge.TypeTextToDiagram), "text-to-diagram or diagram-to-code")
	generateCmd.Flags().BoolVar(&genStream, "stream", false, "use the streaming endpoint (text-to-diagram)")
	generateCmd.Flags().StringVar(&genImage, "image", "", "image file for diagram-to-code")
	generateCmd.Flags().StringVar(&genTheme, "theme", "light", "theme for diagram-to-code")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	sec, err := rt.secrets(false)
	if err != nil {
		return err
	}
	body, url, err := generateRequest(bridge.RequestType(genKind), args[0])
	if err != nil {
		return err
	}

	loop := mainloop.New()
	defer loop.Close()
	corr := bridge.NewCorrelator(loop)
	genai.NewHandlers(rt.aiClient(sec), genai.WithChunkSize(rt.cfg.AI.ChunkSize), genai.WithEvents(rt.tel)).Register(corr)

	spinner, _ := pterm.DefaultSpinner.Start("Generating…")
	done := make(chan bridge.Response, 1)
	corr.Dispatch(cmd.Context(), bridge.Request{
		ID:     uuid.NewString(),
		Body:   &body,
		Method: "POST",
		URL:    url,
		Type:   bridge.RequestType(genKind),
	}, bridge.SinkFunc(func(r bridge.Response) error { done <- r; return nil }))
	resp := <-done
	if spinner != nil {
		_ = spinner.Stop()
	}
	if !resp.OK {
		return fmt.Errorf("generation failed (%d): %s", resp.Status, failureMessage(resp.Body))
	}
	pterm.Println(renderGenerated(resp))
	return nil
}

func generateRequest(kind bridge.RequestType, prompt string) (string, string, error) {
	eps := bridge.NewEndpoints(rt.cfg.AI.EndpointBase)
	var prefix string
	for _, ep := range eps {
		if ep.Type == kind {
			prefix = ep.Prefix
		}
	}
	if prefix == "" {
		return "", "", fmt.Errorf("unknown generation type %q", kind)
	}
	var payload map[string]any
	url := prefix + "generate"
	switch kind {
	case bridge.TypeTextToDiagram:
		payload = map[string]any{"prompt": prompt, "messages": []map[string]string{{"role": "user", "content": prompt}}}
		if genStream {
			url = prefix + bridge.StreamingMarker
		}
	case bridge.TypeDiagramToCode:
		payload = map[string]any{"texts": prompt, "theme": genTheme}
		if genImage != "" {
			img, err := os.ReadFile(genImage)
			if err != nil {
				return "", "", err
			}
			payload["image"] = imageDataURL(genImage, img)
		}
	}
	b, err := json.Marshal(payload)
	return string(b), url, err
}

func imageDataURL(name string, data []byte) string {
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// renderGenerated returns the generated text from a successful response body.
func renderGenerated(resp bridge.Response) string {
	if strings.HasPrefix(resp.Headers["Content-Type"], bridge.ContentTypeSSE) {
		var b strings.Builder
		for _, line := range strings.Split(resp.Body, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok || data == "[DONE]" {
				continue
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if json.Unmarshal([]byte(data), &chunk) == nil {
				for _, c := range chunk.Choices {
					b.WriteString(c.Delta.Content)
				}
			}
		}
		return b.String()
	}
	var out struct {
		HTML      string `json:"html"`
		Generated string `json:"generatedResponse"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		return resp.Body
	}
	if out.HTML != "" {
		return out.HTML
	}
	return out.Generated
}

func failureMessage(body string) string {
	var m struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &m); err == nil && m.Message != "" {
		return m.Message
	}
	if body == "" {
		return "no details"
	}
	return body
}
