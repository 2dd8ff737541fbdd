package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log"
	"os"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"stackc/pkg/compiler"
	"stackc/pkg/config"
	"stackc/pkg/vm"
)

const (
	lineHeight = 14
	leftMargin = 8

	listingRadius = 8 // instructions shown on each side of pc
	stackDepth    = 6 // stack entries shown, top first
	outputTail    = 5 // trailing program output lines shown
)

type Game struct {
	vm     *vm.VM
	cfg    *config.Config
	output *bytes.Buffer

	paused bool
	runErr error
	notice string

	frame  *image.RGBA   // reused CPU-side text frame
	canvas *ebiten.Image // reused canvas uploaded from frame
}

func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyN) && g.paused {
		g.step(1)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		if err := g.vm.SnapshotToFile(g.cfg.Desktop.SnapshotPath); err != nil {
			g.notice = fmt.Sprintf("snapshot failed: %v", err)
		} else {
			g.notice = fmt.Sprintf("snapshot -> %s", g.cfg.Desktop.SnapshotPath)
		}
	}

	if !g.paused {
		g.step(g.cfg.Desktop.ClockSpeed)
	}
	return nil
}

// step executes up to n instructions, stopping early on halt or fault.
// A fault pauses the machine so the frame shows the faulting state.
func (g *Game) step(n int) {
	if g.runErr != nil {
		return
	}
	for i := 0; i < n && g.vm.Running; i++ {
		if err := g.vm.Step(); err != nil {
			g.runErr = err
			g.paused = true
			break
		}
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	w := g.cfg.Desktop.WindowWidth
	h := g.cfg.Desktop.WindowHeight
	if g.frame == nil {
		g.frame = image.NewRGBA(image.Rect(0, 0, w, h))
		g.canvas = ebiten.NewImage(w, h)
	}

	draw.Draw(g.frame, g.frame.Bounds(), image.Black, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  g.frame,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	y := lineHeight
	for _, line := range g.lines() {
		d.Dot = fixed.P(leftMargin, y)
		d.DrawString(line)
		y += lineHeight
		if y > h {
			break
		}
	}

	g.canvas.WritePixels(g.frame.Pix)
	screen.DrawImage(g.canvas, nil)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.cfg.Desktop.WindowWidth, g.cfg.Desktop.WindowHeight
}

// lines composes the whole text frame top to bottom.
func (g *Game) lines() []string {
	lines := []string{g.statusLine()}
	if g.notice != "" {
		lines = append(lines, g.notice)
	}

	lines = append(lines, "", "-- code --")
	lines = append(lines, listingWindow(g.vm.Program, g.vm.PC, listingRadius)...)
	lines = append(lines, "", "-- stack --")
	lines = append(lines, stackLines(g.vm.Stack, g.vm.BP, stackDepth)...)
	lines = append(lines, "", "-- output --")
	lines = append(lines, tailLines(g.output.String(), outputTail)...)
	return lines
}

func (g *Game) statusLine() string {
	switch {
	case g.runErr != nil:
		return fmt.Sprintf("FAULT: %v", g.runErr)
	case !g.vm.Running:
		return fmt.Sprintf("halted after %d instructions", g.vm.Steps)
	case g.paused:
		return fmt.Sprintf("paused   pc=%d steps=%d   [space] run  [n] step  [s] snapshot", g.vm.PC, g.vm.Steps)
	default:
		return fmt.Sprintf("running  pc=%d steps=%d   [space] pause  [s] snapshot", g.vm.PC, g.vm.Steps)
	}
}

// listingWindow renders the instructions around pc, one line each, with a
// cursor on the pc line. The window clamps at the program edges.
func listingWindow(p vm.Program, pc, radius int) []string {
	lo := pc - radius
	if lo < 0 {
		lo = 0
	}
	hi := pc + radius
	if hi > len(p)-1 {
		hi = len(p) - 1
	}

	var lines []string
	for i := lo; i <= hi; i++ {
		cursor := "  "
		if i == pc {
			cursor = "> "
		}
		lines = append(lines, fmt.Sprintf("%s%4d  %s", cursor, i, p[i]))
	}
	return lines
}

// stackLines renders up to max stack entries, top of stack first, marking
// the frame base.
func stackLines(stack []int64, bp, max int) []string {
	if len(stack) == 0 {
		return []string{"  (empty)"}
	}

	lo := len(stack) - max
	if lo < 0 {
		lo = 0
	}

	var lines []string
	for i := len(stack) - 1; i >= lo; i-- {
		mark := ""
		if i == bp {
			mark = "  <- bp"
		}
		lines = append(lines, fmt.Sprintf("  [%d] %d%s", i, stack[i], mark))
	}
	return lines
}

// tailLines returns the last max non-empty-tail lines of s.
func tailLines(s string, max int) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}

func main() {
	configPath := flag.String("config", "", "path to a stackc.toml file")
	resumePath := flag.String("resume", "", "resume from a snapshot archive instead of compiling a source file")
	flag.Parse()

	if *resumePath != "" && flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "use either a source file or -resume, not both")
		os.Exit(2)
	}
	if *resumePath == "" && flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop [flags] program.c")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var m *vm.VM
	if *resumePath != "" {
		m = vm.New(nil)
		if err := m.RestoreFromFile(*resumePath); err != nil {
			log.Fatalf("Failed to restore snapshot: %v", err)
		}
	} else {
		sourceBytes, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			log.Fatalf("Failed to read source file: %v", err)
		}
		prog, err := compiler.Compile(string(sourceBytes))
		if err != nil {
			log.Fatalf("Compilation failed: %v", err)
		}
		m = vm.New(prog)
	}

	output := new(bytes.Buffer)
	m.Output = output
	m.Trace = cfg.Run.Trace

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(cfg.Desktop.WindowWidth, cfg.Desktop.WindowHeight)
	ebiten.SetWindowTitle(cfg.Desktop.Title)

	game := &Game{vm: m, cfg: cfg, output: output}
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}

// loadConfig resolves the effective configuration: the -config file if given,
// otherwise the nearest stackc.toml, otherwise the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
