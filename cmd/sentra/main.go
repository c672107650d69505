// cmd/sentra/main.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"sentra/internal/debugger"
	"sentra/internal/engine"
	"sentra/internal/jit"
	"sentra/internal/objectmodel"
	"sentra/internal/profilestore"
	"sentra/internal/tracesink"
	"sentra/internal/vmregister"
)

const VERSION = "1.0.0"

var BuildDate = time.Now().Format("2006-01-02")

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		showVersion()
	case "demo":
		if err := runDemo(); err != nil {
			fmt.Fprintf(os.Stderr, "sentra: %v\n", err)
			os.Exit(1)
		}
	case "trace-server":
		if err := runTraceServer(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "sentra: %v\n", err)
			os.Exit(1)
		}
	case "debug":
		debugger.NewDebugger().RunDebugger()
	case "profile-stats":
		if err := runProfileStats(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "sentra: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "sentra: unknown command %q\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println("sentra - runtime-entry core for the Sentra managed-object VM")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sentra demo                 run a scripted IC-miss/OSR/deopt/patch walkthrough")
	fmt.Println("  sentra trace-server [addr]  start a tracesink websocket server (default :7787)")
	fmt.Println("  sentra profile-stats <dsn>  report the hottest functions in a profilestore")
	fmt.Println("  sentra debug                start an interactive breakpoint/step session")
	fmt.Println("  sentra version              print version information")
	fmt.Println("  sentra help                 show this message")
}

func showVersion() {
	fmt.Printf("sentra %s (built %s)\n", VERSION, BuildDate)
}

// buildIsolate wires an engine.Isolate against the in-tree fixture
// collaborators: demonstration and test wiring only, not a production
// object model, allocator, or resolver.
func buildIsolate(trace engine.TraceEmitter) (*engine.Isolate, *vmregister.Resolver) {
	resolver := vmregister.NewResolver()
	collab := engine.Collaborators{
		Compiler:    jit.NewCompiler(jit.NewProfiler()),
		Resolver:    resolver,
		Patcher:     vmregister.NewPatcher(),
		ObjectModel: objectmodel.New(),
		Heap:        objectmodel.NewHeap(),
		Debugger:    debugger.NewDebugger(),
		Exceptions:  engine.NewStdExceptions(),
		Entry:       vmregister.NewDartEntry(),
		Trace:       trace,
	}
	return engine.NewIsolate(collab), resolver
}

// runDemo builds one class with a single method, drives it through an
// IC miss, a static-call patch, an induced OSR compile, and a
// deoptimization, printing what the core decided at each step. It is
// the closest thing this module has to an integration test a human can
// read.
func runDemo() error {
	colorize := isatty.IsTerminal(os.Stdout.Fd())
	header := func(s string) {
		if colorize {
			fmt.Printf("\033[1;36m== %s ==\033[0m\n", s)
		} else {
			fmt.Printf("== %s ==\n", s)
		}
	}

	iso, resolver := buildIsolate(nil)
	e := iso.Engine

	greetEntry := func(frame *vmregister.CallFrame, args []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(42), nil
	}
	greetCode := vmregister.NewUnoptimizedCode(greetEntry, []vmregister.Instruction{
		vmregister.CreateABC(vmregister.OP_FORPREP, 0, 0, 0),
		vmregister.CreateABC(vmregister.OP_ADD, 0, 0, 1),
		vmregister.CreateABC(vmregister.OP_FORLOOP, 0, 0, 0),
	})
	greetCode.OSRTable[1] = 7
	greetCode.LazyDeoptJump = len(greetCode.Instructions) + 1

	class := &vmregister.ClassObj{Name: "Greeter"}
	cid := iso.RegisterClass(class)
	greetFn := &vmregister.FunctionObj{
		Name:            "greet",
		OwningClass:     class,
		Optimizable:     true,
		CurrentCode:     greetCode,
		UnoptimizedCode: greetCode,
	}
	resolver.Register(cid, "greet", greetFn)

	header("IC miss")
	receiver := vmregister.NewInstance(class)
	ic := &vmregister.ICData{TargetName: "greet", NumArgsTested: 1}
	entry, err := e.InlineCacheMissHandler(ic, receiver, nil)
	if err != nil {
		return errors.Wrap(err, "IC miss handler failed")
	}
	if entry == nil {
		fmt.Println("  unresolved")
	} else {
		fmt.Println("  resolved to greet's entry point")
	}

	header("static call patch")
	callerCode := vmregister.NewUnoptimizedCode(greetEntry, greetCode.Instructions)
	if err := e.PatchStaticCall(callerCode, 3, greetFn); err != nil {
		return errors.Wrap(err, "patch failed")
	}
	if err := e.PatchStaticCall(callerCode, 3, greetFn); err != nil && err != engine.ErrNoopPatch {
		return errors.Wrap(err, "second patch should have been a noop")
	}
	fmt.Println("  patched call site 3, monotonicity check passed")

	header("OSR")
	frame := &vmregister.CallFrame{Function: greetFn, Code: greetCode, PC: 1, Registers: []vmregister.Value{vmregister.BoxInt(0)}}
	result, err := iso.PollStackOverflow(frame, false)
	if err != nil {
		return errors.Wrap(err, "OSR poll failed")
	}
	fmt.Printf("  OSRApplied=%v newPC=%d\n", result.OSRApplied, result.NewPC)

	header("message interrupt dispatch")
	iso.MessageHandler = func(msg interface{}) error {
		fmt.Printf("  delivered message: %v\n", msg)
		return nil
	}
	if err := iso.PostMessage("greet.invoked"); err != nil {
		return errors.Wrap(err, "post message failed")
	}
	if _, err := iso.PollStackOverflow(&vmregister.CallFrame{}, false); err != nil {
		return errors.Wrap(err, "message dispatch via PollStackOverflow failed")
	}

	header("type test (argument-marshalled entry)")
	cache := vmregister.NewSubtypeTestCache()
	instanceofArgs := engine.NewArguments([]vmregister.Value{receiver})
	typ := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{cid}}
	noInstantiator := vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat}
	if err := e.InstanceofEntry(instanceofArgs, cache, typ, noInstantiator, 0); err != nil {
		return errors.Wrap(err, "instanceof entry failed")
	}
	fmt.Printf("  ArgAt(0) instanceof Greeter = %v\n", vmregister.AsBool(instanceofArgs.Return()))

	header("array allocation (argument-marshalled entry)")
	requestedLen := int64(4)
	arrayArgs := engine.NewArguments([]vmregister.Value{vmregister.BoxInt(requestedLen)})
	if err := e.AllocateArrayEntry(arrayArgs, vmregister.TypeArgs{Kind: vmregister.TypeArgsFlat, Flat: []vmregister.ClassID{vmregister.CidInt}}); err != nil {
		return errors.Wrap(err, "allocate array entry failed")
	}
	fmt.Printf("  allocated array (capacity request %d), element type args attached\n", requestedLen)

	header("instance function lookup (getter-then-call)")
	class.Properties = map[string]vmregister.Value{"shout": vmregister.NilValue()}
	shoutFn := vmregister.NewFunction("shout", 0, nil, nil, func(*vmregister.CallFrame, []vmregister.Value) (vmregister.Value, error) {
		return vmregister.BoxInt(99), nil
	})
	vmregister.AsInstance(receiver).Fields["shout"] = shoutFn
	lookupIC := &vmregister.ICData{TargetName: "shout"}
	lookupResult, err := e.InstanceFunctionLookup(lookupIC, receiver, nil)
	if err != nil {
		return errors.Wrap(err, "instance function lookup failed")
	}
	fmt.Printf("  getter-then-call dispatched, shout() = %d\n", vmregister.ToInt(lookupResult))

	header("deoptimization")
	if err := e.DeoptimizeAt(frame.Code, frame.PC, greetFn); err != nil {
		return errors.Wrap(err, "deopt failed")
	}
	fmt.Printf("  greet is now running %s code again\n", statusOf(greetFn))

	stats := e.Collab.Compiler.(*jit.Compiler).GetStats()
	fmt.Printf("\ncompiler stats: %s calls observed, %s loops compiled\n",
		humanize.Comma(int64(stats.TotalCalls)), humanize.Comma(int64(stats.CompiledLoops)))
	return nil
}

func statusOf(fn *vmregister.FunctionObj) string {
	if fn.CurrentCode == fn.UnoptimizedCode {
		return "unoptimized"
	}
	return "optimized"
}

func runTraceServer(args []string) error {
	addr := ":7787"
	if len(args) > 0 {
		addr = args[0]
	}
	sink := tracesink.New()
	if err := sink.ListenAndServe(addr); err != nil {
		return errors.Wrapf(err, "trace server on %s", addr)
	}
	fmt.Printf("trace server listening on %s (connect to ws://%s/trace)\n", addr, addr)
	fmt.Println("press enter to stop")
	bufio.NewReader(os.Stdin).ReadString('\n')
	return sink.Close()
}

func runProfileStats(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: sentra profile-stats <sqlite-dsn>")
	}
	store, err := profilestore.Open(profilestore.SQLite, args[0])
	if err != nil {
		return errors.Wrap(err, "open profilestore")
	}
	defer store.Close()

	top, err := store.Hottest(10)
	if err != nil {
		return errors.Wrap(err, "query hottest functions")
	}
	if len(top) == 0 {
		fmt.Println("no recorded function counters yet")
		return nil
	}
	for _, rec := range top {
		fmt.Printf("%-40s usage=%-12s deopts=%d\n", rec.QualifiedName, humanize.Comma(rec.UsageCount), rec.DeoptCount)
	}
	return nil
}
