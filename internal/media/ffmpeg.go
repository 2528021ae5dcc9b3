package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/pipeline"
)

var _ pipeline.Assembler = (*FFmpeg)(nil)

// FFmpegOptions configures rendering.
type FFmpegOptions struct {
	FFmpegPath  string
	FFprobePath string
	Width       int
	Height      int
	// MusicDir holds one sub-directory of tracks per mood.
	MusicDir    string
	MusicVolume float64
}

// runner executes a tool and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg renders vertical videos by cropping footage to the frame, laying
// the voiceover and optional music underneath and burning in captions.
type FFmpeg struct {
	opts   FFmpegOptions
	run    runner
	logger *slog.Logger
}

// NewFFmpeg returns an assembler. Zero options fall back to a 1080x1920
// frame and the binaries on PATH.
func NewFFmpeg(opts FFmpegOptions) *FFmpeg {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = siblingTool(opts.FFmpegPath, "ffprobe")
	}
	if opts.Width <= 0 {
		opts.Width = 1080
	}
	if opts.Height <= 0 {
		opts.Height = 1920
	}
	if opts.MusicVolume <= 0 {
		opts.MusicVolume = 0.12
	}
	return &FFmpeg{opts: opts, run: execRunner, logger: slog.Default()}
}

// siblingTool returns the path of tool next to an explicitly located ffmpeg.
func siblingTool(ffmpegPath, tool string) string {
	if dir := filepath.Dir(ffmpegPath); dir != "." {
		return filepath.Join(dir, tool)
	}
	return tool
}

// Compose renders in to out.
func (f *FFmpeg) Compose(ctx context.Context, in pipeline.AssemblyInput, out string) error {
	if len(in.Footage) == 0 {
		return executor.Fatalf("no footage to assemble")
	}
	if in.Audio == "" {
		return executor.Fatalf("no voiceover to assemble")
	}

	duration, err := f.probeDuration(ctx, in.Audio)
	if err != nil {
		return err
	}

	work, err := os.MkdirTemp(filepath.Dir(out), ".render-*")
	if err != nil {
		return fmt.Errorf("creating render dir: %w", err)
	}
	defer os.RemoveAll(work)

	r := render{
		width:    f.opts.Width,
		height:   f.opts.Height,
		duration: duration,
		audio:    in.Audio,
		footage:  in.Footage,
		volume:   f.opts.MusicVolume,
		out:      out,
	}
	if in.Captions.Enabled {
		if r.subtitles, err = writeCaptions(work, in.Captions.Text, duration); err != nil {
			return err
		}
		if hook := strings.TrimSpace(in.Captions.Hook); hook != "" {
			r.hookFile = filepath.Join(work, "hook.txt")
			if err := os.WriteFile(r.hookFile, []byte(hook), 0o644); err != nil {
				return fmt.Errorf("writing hook text: %w", err)
			}
		}
	}
	r.music = f.resolveMusic(in.Music)

	f.logger.Info("rendering video", "clips", len(in.Footage), "seconds", duration, "music", r.music != "")
	output, err := f.run(ctx, f.opts.FFmpegPath, r.args()...)
	if err != nil {
		return toolError(ctx, "ffmpeg", err, output)
	}
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		return executor.Fatalf("ffmpeg produced no output")
	}
	return nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, audio string) (float64, error) {
	output, err := f.run(ctx, f.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		audio,
	)
	if err != nil {
		return 0, toolError(ctx, "ffprobe", err, output)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil || d <= 0 {
		return 0, executor.Fatalf("ffprobe: unreadable duration %q", strings.TrimSpace(string(output)))
	}
	return d, nil
}

// resolveMusic turns a file path or a mood into a track. A missing mood
// directory falls back to any mood that has tracks.
func (f *FFmpeg) resolveMusic(music string) string {
	if music == "" {
		return ""
	}
	if st, err := os.Stat(music); err == nil && !st.IsDir() {
		return music
	}
	if f.opts.MusicDir == "" {
		return ""
	}
	if tracks := musicTracks(filepath.Join(f.opts.MusicDir, music)); len(tracks) > 0 {
		return tracks[rand.IntN(len(tracks))]
	}
	moods, err := os.ReadDir(f.opts.MusicDir)
	if err != nil {
		return ""
	}
	for _, m := range moods {
		if !m.IsDir() {
			continue
		}
		if tracks := musicTracks(filepath.Join(f.opts.MusicDir, m.Name())); len(tracks) > 0 {
			f.logger.Warn("music mood not found, using another", "mood", music, "using", m.Name())
			return tracks[rand.IntN(len(tracks))]
		}
	}
	return ""
}

func musicTracks(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var tracks []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".mp3" || ext == ".wav") {
			tracks = append(tracks, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(tracks)
	return tracks
}

func writeCaptions(dir, text string, duration float64) (string, error) {
	cues := CaptionCues(text, duration, 3)
	if len(cues) == 0 {
		return "", nil
	}
	path := filepath.Join(dir, "captions.srt")
	fh, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating captions: %w", err)
	}
	if err := WriteSRT(fh, cues); err != nil {
		fh.Close()
		return "", fmt.Errorf("writing captions: %w", err)
	}
	return path, fh.Close()
}

// toolError classifies a failed tool run. A missing binary or a non-zero
// exit is fatal; cancellation is passed through.
func toolError(ctx context.Context, tool string, err error, output []byte) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", tool, ctx.Err())
	}
	if errors.Is(err, exec.ErrNotFound) {
		return executor.Fatalf("%s not found: %v", tool, err)
	}
	return executor.Fatalf("%s: %v: %s", tool, err, tail(string(output), 5))
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// render is one ffmpeg invocation.
type render struct {
	width, height int
	duration      float64
	audio         string
	footage       []string
	music         string
	volume        float64
	subtitles     string
	hookFile      string
	out           string
}

func (r render) args() []string {
	n := len(r.footage)
	seg := r.duration / float64(n)

	args := []string{"-y"}
	for _, clip := range r.footage {
		args = append(args, "-stream_loop", "-1", "-t", seconds(seg), "-i", clip)
	}
	args = append(args, "-i", r.audio)
	if r.music != "" {
		args = append(args, "-stream_loop", "-1", "-i", r.music)
	}

	var filters []string
	var concat strings.Builder
	for i := range r.footage {
		filters = append(filters, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=30,trim=duration=%s,setpts=PTS-STARTPTS[v%d]",
			i, r.width, r.height, r.width, r.height, seconds(seg), i))
		fmt.Fprintf(&concat, "[v%d]", i)
	}
	filters = append(filters, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[vcat]", concat.String(), n))
	last := "vcat"

	if r.subtitles != "" {
		filters = append(filters, fmt.Sprintf(
			"[%s]subtitles=filename='%s':force_style='Alignment=2,FontSize=14,Bold=1,Outline=2,MarginV=70'[vsub]",
			last, escapeFilterPath(r.subtitles)))
		last = "vsub"
	}
	if r.hookFile != "" {
		filters = append(filters, fmt.Sprintf(
			"[%s]drawtext=textfile='%s':fontsize=72:fontcolor=white:box=1:boxcolor=black@0.5:boxborderw=24:x=(w-text_w)/2:y=h*0.12:enable='lt(t,3)'[vhook]",
			last, escapeFilterPath(r.hookFile)))
		last = "vhook"
	}

	audioMap := fmt.Sprintf("%d:a", n)
	if r.music != "" {
		filters = append(filters, fmt.Sprintf(
			"[%d:a]volume=%s[bg];[%d:a][bg]amix=inputs=2:duration=first:normalize=0[aout]",
			n+1, strconv.FormatFloat(r.volume, 'f', 2, 64), n))
		audioMap = "[aout]"
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "["+last+"]",
		"-map", audioMap,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", seconds(r.duration),
		"-movflags", "+faststart",
		r.out,
	)
	return args
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// escapeFilterPath quotes a path for use inside a filtergraph option value.
func escapeFilterPath(p string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `'\''`, `:`, `\:`).Replace(p)
}
