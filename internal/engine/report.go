package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/system"
)

// BenchmarkLog collects one line per export when stats are enabled.
var BenchmarkLog = "benchmark.log"

type runStats struct {
	start       time.Time
	renderStart time.Time
	renderEnd   time.Time
	finalizeEnd time.Time
	frames      int64
}

func (e *Exporter) report(sess *Session, art *Artifact, st *runStats) {
	totalTime := time.Since(st.start)
	prepareTime := st.renderStart.Sub(st.start)
	renderTime := st.renderEnd.Sub(st.renderStart)
	finalizeTime := st.finalizeEnd.Sub(st.renderEnd)
	fps := 0.0
	if renderTime > 0 {
		fps = float64(st.frames) / renderTime.Seconds()
	}
	w, h := sess.Dimensions()

	host, err := system.ReadHostStats(0)
	if err != nil {
		logrus.WithError(err).Debug("Host stats unavailable")
	}

	report := fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Session: %s\n"+
			"Output: %s %dx%d (%s)\n"+
			"Total Time: %.2fs\n"+
			"Preparing: %.2fs\n"+
			"Rendering: %.2fs\n"+
			"Finalizing: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"Host: %s\n"+
			"----------------------------\n",
		e.Config.BuildVersion, sess.ID, art.Name, w, h, art.Mime,
		totalTime.Seconds(), prepareTime.Seconds(), renderTime.Seconds(), finalizeTime.Seconds(), fps,
		host,
	)
	fmt.Print(report)

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Bytes: %d | Total: %.2fs | Render: %.2fs | FPS: %.2f | RAM: %.1f%%\n",
		time.Now().Format("2006-01-02 15:04:05"),
		e.Config.BuildVersion,
		filepath.Base(e.Config.InputPath),
		st.frames,
		len(art.Data),
		totalTime.Seconds(),
		renderTime.Seconds(),
		fps,
		host.MemUsedPerc,
	)

	f, err := os.OpenFile(BenchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Printf("[!] Не удалось записать %s: %v\n", BenchmarkLog, err)
		return
	}
	defer f.Close()
	f.WriteString(logEntry)
}
