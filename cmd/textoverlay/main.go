package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/engine"
	"github.com/ivlev/textoverlay/internal/preview"
	"github.com/ivlev/textoverlay/internal/renderer"
	"github.com/ivlev/textoverlay/internal/source"
	"github.com/ivlev/textoverlay/internal/system"
	"github.com/ivlev/textoverlay/internal/video"
)

var buildVersion = "dev"

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Printf("[!] Не удалось прочитать .env: %v", err)
	}
	cfg := config.Default()
	cfg.BuildVersion = buildVersion

	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	for _, d := range []string{"input/video", "output"} {
		os.MkdirAll(d, 0755)
	}

	def := config.DefaultTimeline()
	inputPtr := flag.String("input", "", "Путь к видео, изображению или PDF (по умолчанию: самый свежий файл в input/video/)")
	outputPtr := flag.String("output", cfg.OutputPath, "Путь к результату")
	configPtr := flag.String("config", "", "YAML-файл с параметрами надписи")
	textPtr := flag.String("text", def.Text, "Текст надписи")
	fontSizePtr := flag.Int("font-size", def.FontSize, "Размер шрифта (24-96)")
	colorPtr := flag.String("color", def.Color.Hex(), "Цвет текста #rrggbb")
	positionPtr := flag.String("position", string(def.Position), "Позиция: top, middle, bottom")
	inPtr := flag.String("in", string(def.InAnim), "Появление: none, fade, slide, typewriter")
	outPtr := flag.String("out", string(def.OutAnim), "Исчезновение: none, fade, slide")
	startPtr := flag.Float64("start", def.StartTime, "Начало показа (сек)")
	endPtr := flag.Float64("end", def.EndTime, "Конец показа (сек)")
	cuePtr := flag.String("cue", string(def.Cue), "Звук: none, whoosh, pop, typewriter")
	durationPtr := flag.Float64("duration", 5, "Длительность для входного изображения или страницы PDF (сек)")
	pagePtr := flag.Int("page", 1, "Номер страницы PDF (с 1)")
	dpiPtr := flag.Int("dpi", source.DefaultDPI, "DPI для страницы PDF")
	monitorPtr := flag.String("monitor", "", "Записать контрольный WAV со звуковой дорожкой")
	snapshotPtr := flag.Float64("snapshot", -1, "Сохранить PNG кадра на заданной секунде вместо экспорта")
	previewPtr := flag.Bool("preview", false, "Проиграть источник в реальном времени и печатать состояние надписи")
	statsPtr := flag.Bool("stats", false, "Печатать отчет о производительности")
	logLevelPtr := flag.String("log-level", cfg.LogLevel, "Уровень логов: debug, info, warn, error")

	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
	logrus.SetLevel(level)

	tc := def
	if *configPtr != "" {
		tc, err = config.LoadTimeline(*configPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка чтения %s: %v", *configPtr, err)
		}
	}

	// флаги, заданные явно, важнее YAML
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "text":
			tc.Text = *textPtr
		case "font-size":
			tc.FontSize = *fontSizePtr
		case "color":
			tc.Color = config.ParseRGBOrWhite(*colorPtr)
		case "position":
			tc.Position = config.Position(*positionPtr)
		case "in":
			tc.InAnim = config.InAnimation(*inPtr)
		case "out":
			tc.OutAnim = config.OutAnimation(*outPtr)
		case "start":
			tc.StartTime = *startPtr
		case "end":
			tc.EndTime = *endPtr
		case "cue":
			tc.Cue = config.CueType(*cuePtr)
		}
	})
	tc, err = tc.Normalize()
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}

	cfg.OutputPath = *outputPtr
	cfg.TimelinePath = *configPtr
	cfg.MonitorPath = *monitorPtr
	cfg.SnapshotAt = *snapshotPtr
	cfg.ShowStats = *statsPtr
	cfg.LogLevel = *logLevelPtr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputPath := *inputPtr
	if inputPath == "" {
		latest, err := system.FindLatestVideo("input/video")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите видео в input/video/", err)
		}
		inputPath = latest
		fmt.Printf("[*] Выбран файл: %s\n", inputPath)
	}
	cfg.InputPath = inputPath

	src, err := openSource(ctx, cfg, inputPath, stillOptions{
		duration: *durationPtr,
		page:     *pagePtr - 1,
		dpi:      *dpiPtr,
	})
	if err != nil {
		log.Fatalf("[-] Ошибка инициализации источника: %v", err)
	}
	defer src.Close()

	switch {
	case cfg.SnapshotAt >= 0:
		name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		path := filepath.Join("output", fmt.Sprintf("%s_%.2fs.png", name, cfg.SnapshotAt))
		if err := preview.Snapshot(ctx, src, tc, cfg.SnapshotAt, config.CaptureFPS, path); err != nil {
			log.Fatalf("[-] Ошибка снимка: %v", err)
		}
		fmt.Printf("[+++] Успех! Кадр: %s\n", path)
	case *previewPtr:
		if err := runPreview(ctx, cfg, src, tc); err != nil {
			log.Fatalf("[-] Ошибка предпросмотра: %v", err)
		}
	default:
		if err := runExport(ctx, cfg, src, tc); err != nil {
			log.Fatalf("[-] Ошибка экспорта: %v", err)
		}
	}
}

// stillOptions apply to inputs without their own timing.
type stillOptions struct {
	duration float64
	page     int
	dpi      int
}

func openSource(ctx context.Context, cfg *config.Config, path string, opts stillOptions) (source.Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return source.NewImageSource(path, opts.duration)
	case ".pdf":
		src, err := source.NewPDFSource(path, opts.page, opts.dpi, opts.duration)
		if err != nil {
			return nil, err
		}
		fmt.Printf("[*] Страница %d из %d\n", src.Page()+1, src.PageCount())
		return src, nil
	default:
		return source.NewVideoSource(ctx, path, cfg.FFmpegBin, cfg.FFprobeBin)
	}
}

func runExport(ctx context.Context, cfg *config.Config, src source.Source, tc config.TimelineConfig) error {
	exp, err := engine.NewExporter(cfg, video.NewFFmpegFacility(cfg.FFmpegBin))
	if err != nil {
		return err
	}
	defer exp.Close()

	exp.OnStatus = func(st engine.Status) {
		fmt.Printf("[*] %s\n", st.Message)
	}

	art, err := exp.Export(ctx, src, tc)
	if err != nil {
		return err
	}
	fmt.Printf("[+++] Успех! Результат: %s (%s, %d кадров)\n", art.Path, art.Mime, art.Frames)
	return nil
}

func runPreview(ctx context.Context, cfg *config.Config, src source.Source, tc config.TimelineConfig) error {
	w, h, ok := src.Dimensions()
	if !ok {
		w, h = config.DefaultWidth, config.DefaultHeight
	}
	pb := source.NewPlayback(src, w, h, config.CaptureFPS, source.WithRealtime())
	defer pb.Close()
	if err := pb.Play(ctx); err != nil {
		return err
	}

	loop := preview.NewLoop(tc, func(st renderer.AnimationState, t float64) {
		if !st.Visible {
			fmt.Printf("[*] %6.2fs  -\n", t)
			return
		}
		fmt.Printf("[*] %6.2fs  %q opacity=%.2f y=%+.0f\n", t, st.VisibleText, st.Opacity, st.YOffset)
	})
	loop.Start(ctx, pb)
	defer loop.Stop()

	for f := range pb.Frames() {
		system.PutImage(f.Image)
	}
	return pb.Err()
}
