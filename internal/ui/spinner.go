package ui

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Spin animates label on Out until the returned stop function is called or
// ctx is done. It is a no-op when the Printer has no colour (not a terminal).
// stop clears the spinner line and may be called more than once.
func (p *Printer) Spin(ctx context.Context, label string) (stop func()) {
	if !p.color {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		started := time.Now()
		idx := 0
		for {
			select {
			case <-ctx.Done():
				fmt.Fprint(p.Out, "\r\033[K")
				return
			case <-done:
				fmt.Fprint(p.Out, "\r\033[K")
				return
			case <-ticker.C:
				frame := spinRunes[idx%len(spinRunes)]
				idx++
				elapsed := time.Since(started).Truncate(100 * time.Millisecond)
				fmt.Fprintf(p.Out, "\r%s%s%s %s %s", ansiCyan, string(frame), ansiReset, Clip(label, 60), p.paint(ansiDim, elapsed.String()))
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
