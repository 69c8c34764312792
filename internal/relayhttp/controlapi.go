// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package relayhttp

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/Dash-Industry-Forum/ll-relay/internal/registry"
)

// ssrsOverrideInput is the path of GET /ssss/{stream}/{adaptationSetId}.
// The adaptationSetId bound [0, 63] is a generous ceiling; the real bound
// (max_quality_index-1, per stream) is enforced in the handler since huma
// path parameters cannot reference sibling request state.
type ssrsOverrideInput struct {
	Stream          string `path:"stream" doc:"Stream id"`
	AdaptationSetID int    `path:"adaptationSetId" minimum:"0" maximum:"63" doc:"Target adaptation set / quality index"`
}

type ssrsOverrideResponse struct {
	Body struct {
		Stream          string `json:"stream"`
		AdaptationSetID int    `json:"adaptationSetId"`
	}
}

// mountControlAPI registers the SSRS manual-override control endpoint
// under the given chi sub-router, typed and validated via huma.
func mountControlAPI(reg *registry.Registry) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("Low-latency relay control API", "1.0.0")
		config.Servers = []*huma.Server{{URL: "/ssss"}}
		config.Info.Description = "Sets a manual server-side representation switching override for a stream."
		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "set-ssrs-override",
			Method:      "GET",
			Path:        "/{stream}/{adaptationSetId}",
			Summary:     "Set a manual SSRS override for a stream",
			Errors:      []int{404},
		}, setSSRSOverrideHandler(reg))
	}
}

func setSSRSOverrideHandler(reg *registry.Registry) func(ctx context.Context, in *ssrsOverrideInput) (*ssrsOverrideResponse, error) {
	return func(ctx context.Context, in *ssrsOverrideInput) (*ssrsOverrideResponse, error) {
		stream, ok := reg.Lookup(in.Stream)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("unknown stream %q", in.Stream))
		}
		maxIdx := stream.Cfg.MaxAdaptationSet()
		if in.AdaptationSetID < 0 || in.AdaptationSetID >= maxIdx {
			return nil, huma.Error404NotFound(fmt.Sprintf("adaptation set %d out of range for stream %q", in.AdaptationSetID, in.Stream))
		}
		reg.SetOverride(in.Stream, in.AdaptationSetID)

		resp := &ssrsOverrideResponse{}
		resp.Body.Stream = in.Stream
		resp.Body.AdaptationSetID = in.AdaptationSetID
		return resp, nil
	}
}
