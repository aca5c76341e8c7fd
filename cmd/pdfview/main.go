package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ivlev/pdfview/internal/config"
	"github.com/ivlev/pdfview/internal/fit"
	"github.com/ivlev/pdfview/internal/source"
	"github.com/ivlev/pdfview/internal/store"
	"github.com/ivlev/pdfview/internal/system"
	"github.com/ivlev/pdfview/internal/viewer"
	"github.com/ivlev/pdfview/internal/viewport"
)

var version = "dev"

func main() {
	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	for _, d := range []string{"input/pdf", "output"} {
		os.MkdirAll(d, 0755)
	}

	def := config.Default()
	configPtr := flag.String("config", "", "YAML-файл настроек (флаги имеют приоритет)")
	inputPtr := flag.String("input", "", "PDF, папка с изображениями или qr:N (по умолчанию: самый свежий файл в input/pdf/)")
	outputPtr := flag.String("output", def.OutputDir, "Папка для PNG видимых страниц")
	widthPtr := flag.Int("width", def.Width, "Ширина окна")
	heightPtr := flag.Int("height", def.Height, "Высота окна")
	gapPtr := flag.Float64("gap", def.Gap, "Отступ между страницами")
	dprPtr := flag.Float64("dpr", def.PixelRatio, "Плотность пикселей устройства")
	layoutPtr := flag.String("layout", def.Layout, "Раскладка: single, dual-start, dual-end")
	fitPtr := flag.String("fit", def.Fit, "Масштаб по размеру: none, width, height, page")
	scalePtr := flag.Float64("scale", 0, "Масштаб (0 - из сохранённого состояния)")
	rotationPtr := flag.Int("rotation", def.Rotation, "Поворот в градусах, кратно 90")
	flipPtr := flag.Bool("flip", def.Flip, "Отразить по горизонтали")
	schemePtr := flag.String("scheme", def.Scheme, "Цветовая схема: original, invert, sepia, solarized-light, solarized-dark")
	pagePtr := flag.Int("page", 0, "Перейти к странице")
	scrollPtr := flag.String("scroll", "", "Прокрутки через запятую, например 400,-120")
	workersPtr := flag.Int("workers", def.Workers, "Потоки рендеринга")
	statePtr := flag.String("state", "", "YAML-файл состояния чтения (пусто - не сохранять)")
	statsPtr := flag.Bool("stats", false, "Показать отчёт о производительности")
	verbosePtr := flag.Bool("verbose", false, "Подробный лог")

	flag.Parse()

	cfg := def
	if *configPtr != "" {
		loaded, err := config.Load(*configPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка конфигурации: %v", err)
		}
		cfg = loaded
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := map[string]func(){
		"input":    func() { cfg.InputPath = *inputPtr },
		"output":   func() { cfg.OutputDir = *outputPtr },
		"width":    func() { cfg.Width = *widthPtr },
		"height":   func() { cfg.Height = *heightPtr },
		"gap":      func() { cfg.Gap = *gapPtr },
		"dpr":      func() { cfg.PixelRatio = *dprPtr },
		"layout":   func() { cfg.Layout = *layoutPtr },
		"fit":      func() { cfg.Fit = *fitPtr },
		"scale":    func() { cfg.Scale = *scalePtr },
		"rotation": func() { cfg.Rotation = *rotationPtr },
		"flip":     func() { cfg.Flip = *flipPtr },
		"scheme":   func() { cfg.Scheme = *schemePtr },
		"workers":  func() { cfg.Workers = *workersPtr },
		"state":    func() { cfg.StatePath = *statePtr },
		"stats":    func() { cfg.ShowStats = *statsPtr },
		"verbose":  func() { cfg.Verbose = *verbosePtr },
	}
	for name, apply := range override {
		if set[name] {
			apply()
		}
	}
	cfg.BuildVersion = version

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	if err := run(cfg, set, *pagePtr, *scrollPtr); err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
}

func openSource(input string) (source.Decoder, string, error) {
	if input == "" {
		latest, err := system.FindLatestPDF("input/pdf")
		if err != nil {
			return nil, "", fmt.Errorf("%v. Положите PDF в input/pdf/", err)
		}
		input = latest
		fmt.Printf("[*] Выбран файл: %s\n", input)
	}

	if n, ok := strings.CutPrefix(input, "qr:"); ok {
		count, err := strconv.Atoi(n)
		if err != nil || count < 1 {
			return nil, "", fmt.Errorf("invalid page count in %q", input)
		}
		return source.NewSyntheticSource(count), input, nil
	}

	key := input
	if abs, err := filepath.Abs(input); err == nil {
		key = abs
	}
	if strings.HasSuffix(strings.ToLower(input), ".pdf") {
		src, err := source.NewFitzPDFSource(input)
		return src, key, err
	}
	src, err := source.NewImageSource(input)
	return src, key, err
}

func run(cfg config.Config, set map[string]bool, page int, scrolls string) error {
	start := time.Now()
	ctx := context.Background()

	dec, key, err := openSource(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("ошибка инициализации источника: %w", err)
	}

	lay, _ := cfg.LayoutPolicy()
	fitPolicy, _ := cfg.FitPolicy()
	color, _ := cfg.Color()
	vcfg := viewer.Config{
		Gap:           cfg.Gap,
		PixelRatio:    cfg.PixelRatio,
		Workers:       cfg.Workers,
		SurfaceBudget: cfg.SurfaceBudget,
		Layout:        lay,
		Fit:           fitPolicy,
		Scale:         1,
		Rotation:      cfg.Rotation,
		Flip:          cfg.Flip,
		Color:         color,
	}
	if cfg.Scale > 0 {
		vcfg.Scale = cfg.Scale
	}
	if vcfg.SurfaceBudget == 0 {
		vcfg.SurfaceBudget = system.SurfaceBudget(ctx)
	}

	opts := []viewer.Option{viewer.WithConfig(vcfg)}
	if cfg.Verbose {
		opts = append(opts, viewer.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	if cfg.StatePath != "" {
		opts = append(opts, viewer.WithStore(store.NewFileStore(cfg.StatePath)))
	}

	vp := viewport.NewHeadless(float64(cfg.Width), float64(cfg.Height))
	v := viewer.New(vp, opts...)
	vp.Attach(v.HandleIntersections, v.Slots)

	v.OnCurrentPageChanged(func(p int) {
		fmt.Printf("[>] Текущая страница: %d\n", p)
	})
	v.OnError(func(err error) {
		log.Printf("[!] %v", err)
	})

	if err := v.Open(ctx, key, dec); err != nil {
		return err
	}
	defer v.Close()

	fmt.Printf("[*] pdfview %s | Источник: %s | Страниц: %d\n", cfg.BuildVersion, key, v.PageCount())
	fmt.Printf("[*] Окно: %dx%d @ %.1fx | Раскладка: %s\n", cfg.Width, cfg.Height, cfg.PixelRatio, v.ViewerState().Layout)

	// Явно заданные флаги важнее сохранённого состояния
	if set["layout"] {
		if err := v.SetLayout(lay); err != nil {
			return err
		}
	}
	if set["rotation"] {
		if err := v.SetRotation(cfg.Rotation); err != nil {
			return err
		}
	}
	if set["flip"] {
		if err := v.SetFlip(cfg.Flip); err != nil {
			return err
		}
	}
	if set["scheme"] {
		if err := v.SetColor(color); err != nil {
			return err
		}
	}
	if set["scale"] && cfg.Scale > 0 {
		if err := v.SetScale(cfg.Scale); err != nil {
			return err
		}
	}
	if set["fit"] {
		if err := v.ScaleToFit(fitPolicy); err != nil {
			return err
		}
	}
	if page > 0 {
		if err := v.NavigateTo(page); err != nil {
			return err
		}
	}
	if scrolls != "" {
		for _, part := range strings.Split(scrolls, ",") {
			delta, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return fmt.Errorf("invalid scroll %q: %w", part, err)
			}
			vp.Scroll(delta)
		}
	}

	v.Wait()

	written, err := writeVisible(v, cfg.OutputDir)
	if err != nil {
		return err
	}

	st := v.ViewerState()
	fmt.Printf("[*] Текущая страница %d из %d | Масштаб %.3f | Поворот %d°\n", st.Page, v.PageCount(), st.Scale, st.Rotation)
	fmt.Printf("[+++] Успех! Сохранено страниц: %d в %s\n", written, cfg.OutputDir)

	if cfg.ShowStats {
		printStats(ctx, v, time.Since(start))
	}
	return nil
}

func writeVisible(v *viewer.Controller, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	written := 0
	for _, s := range v.Visible() {
		surf := s.Surface()
		if surf == nil {
			if err := s.Failed(); err != nil {
				log.Printf("[!] Страница %d не отрисована: %v", s.Page, err)
			}
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", s.Page))
		f, err := os.Create(path)
		if err != nil {
			return written, err
		}
		if err := png.Encode(f, surf.Image); err != nil {
			f.Close()
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func printStats(ctx context.Context, v *viewer.Controller, elapsed time.Duration) {
	st := v.Stats()
	fmt.Println("\n[*] Отчёт о производительности:")
	fmt.Printf("    Время:         %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("    Рендеров:      %d (применено %d, устарело %d, отменено %d, дублей %d, ошибок %d)\n",
		st.Issued, st.Applied, st.Stale, st.Cancelled, st.Deduplicated, st.Failed)
	fmt.Printf("    Поверхности:   %.1f MB\n", float64(st.LiveBytes)/(1<<20))
	fmt.Printf("    Пул буферов:   %.1f MB\n", float64(system.LiveBytes())/(1<<20))
	if hm, err := system.ReadHostMemory(ctx); err == nil {
		fmt.Printf("    Память хоста:  %.0f / %.0f MB свободно\n", float64(hm.Available)/(1<<20), float64(hm.Total)/(1<<20))
	}
	if v.ViewerState().Fit != fit.None {
		fmt.Printf("    Подгонка:      %s\n", v.ViewerState().Fit)
	}
}
