/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package bridge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
)

// ResolverFunc is the global function the shim installs to settle pending fetches.
const ResolverFunc = "window.__excalideskResolve"

//go:embed shim.js.tmpl
var shimSource string

var shimTemplate = template.Must(template.New("shim").Parse(shimSource))

// ShimOptions parameterize the injected script.
type ShimOptions struct {
	Endpoints       Endpoints
	CollabServerURL string
	SocketPath      string
}

// RenderShim renders the fetch-patching script for the given options.
func RenderShim(opts ShimOptions) ([]byte, error) {
	eps := opts.Endpoints
	if eps == nil {
		eps = Endpoints{}
	}
	data := struct {
		EndpointsJSON       string
		CollabServerURLJSON string
		SocketPathJSON      string
	}{}
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&data.EndpointsJSON, eps},
		{&data.CollabServerURLJSON, opts.CollabServerURL},
		{&data.SocketPathJSON, opts.SocketPath},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("encode shim data: %w", err)
		}
		*f.dst = string(b)
	}
	var buf bytes.Buffer
	if err := shimTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render shim: %w", err)
	}
	return buf.Bytes(), nil
}
