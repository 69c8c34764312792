// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package packager

import (
	"fmt"

	"github.com/Dash-Industry-Forum/ll-relay/internal/config"
)

// Command assembles the ffmpeg argv for cfg's packager type. GEN produces
// a single-quality synthetic test source; RTSP transcodes a live RTSP
// input into every quality in cfg.Qualities.Video. Both target this
// server's own /isotime endpoint for -utc_timing_url and PUT their DASH
// output at {baseURL}/{stream}/manifest.mpd.
func Command(baseURL string, cfg config.StreamConfig) ([]string, error) {
	switch cfg.Type {
	case "GEN":
		return genCommand(baseURL, cfg), nil
	case "RTSP":
		return rtspCommand(baseURL, cfg), nil
	default:
		return nil, fmt.Errorf("unknown packager type %q", cfg.Type)
	}
}

func outputURL(baseURL, stream string) string {
	return fmt.Sprintf("%s/%s/manifest.mpd", baseURL, stream)
}

func timeServerURL(baseURL string) string {
	return baseURL + "/isotime"
}

// genCommand builds the fixed-quality test-source pipeline: a lavfi
// "testsrc2" source encoded with libx264 at a single bitrate/resolution.
func genCommand(baseURL string, cfg config.StreamConfig) []string {
	return []string{
		"ffmpeg",
		"-hide_banner",
		"-re",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc2=size=%dx%d:rate=%d", cfg.TargetWidth, cfg.TargetWidth*3/4, cfg.TargetFps),
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-x264opts", fmt.Sprintf("keyint=%d:min-keyint=%d:scenecut=-1", cfg.IntraInterval, cfg.IntraInterval),
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-preset", "veryfast",
		"-bf", "0",
		"-refs", "3",
		"-b:v", fmt.Sprintf("%dk", cfg.TargetBitrate),
		"-bufsize", fmt.Sprintf("%dk", cfg.TargetBitrate),
		"-utc_timing_url", timeServerURL(baseURL),
		"-use_timeline", "0",
		"-format_options", "movflags=cmaf",
		"-frag_type", "duration",
		"-adaptation_sets", adaptationSetsDescriptor(cfg),
		"-streaming", "1",
		"-ldash", "1",
		"-export_side_data", "prft",
		"-write_prft", "1",
		"-target_latency", fmt.Sprintf("%g", cfg.TargetLatency),
		"-window_size", "5",
		"-extra_window_size", "10",
		"-remove_at_exit", "1",
		"-method", "PUT",
		"-f", "dash",
		outputURL(baseURL, cfg.Stream),
	}
}

// rtspCommand builds the per-quality transcoder pipeline from a live RTSP
// input, emitting one full set of per-stream video options for every
// entry in cfg.Qualities.Video.
func rtspCommand(baseURL string, cfg config.StreamConfig) []string {
	argv := []string{
		"ffmpeg",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-avioflags", "direct",
		"-f", "rtsp",
		"-i", cfg.Input,
	}

	for i, q := range cfg.Qualities.Video {
		argv = append(argv,
			"-map", "0:v:0",
			fmt.Sprintf("-b:v:%d", i), fmt.Sprintf("%dk", q.TargetBitrate),
			fmt.Sprintf("-bufsize:v:%d", i), fmt.Sprintf("%dk", q.TargetBitrate),
			fmt.Sprintf("-filter:v:%d", i), fmt.Sprintf("fps=%d,scale=%d:-2", cfg.TargetFps, q.TargetWidth),
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-x264opts:v:%d", i), fmt.Sprintf("keyint=%d:min-keyint=%d:scenecut=-1", cfg.IntraInterval, cfg.IntraInterval),
			fmt.Sprintf("-tune:v:%d", i), "zerolatency",
			fmt.Sprintf("-profile:v:%d", i), "baseline",
			fmt.Sprintf("-preset:v:%d", i), "veryfast",
			fmt.Sprintf("-bf:v:%d", i), "0",
			fmt.Sprintf("-refs:v:%d", i), "0",
		)
	}

	argv = append(argv,
		"-utc_timing_url", timeServerURL(baseURL),
		"-use_timeline", "0",
		"-use_template", "1",
		"-format_options", "movflags=cmaf",
		"-frag_type", "duration",
		"-adaptation_sets", adaptationSetsDescriptor(cfg),
		"-streaming", "1",
		"-ldash", "1",
		"-export_side_data", "prft",
		"-write_prft", "1",
		"-target_latency", fmt.Sprintf("%g", cfg.TargetLatency),
		"-window_size", "10",
		"-extra_window_size", "120",
		"-remove_at_exit", "1",
		"-method", "PUT",
		"-f", "dash",
		outputURL(baseURL, cfg.Stream),
	)
	return argv
}

func adaptationSetsDescriptor(cfg config.StreamConfig) string {
	return fmt.Sprintf("id=0, seg_duration=%g, frag_duration=%g, streams=v", cfg.SegmentDuration, cfg.FragmentDuration)
}
