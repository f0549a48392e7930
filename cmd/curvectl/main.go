package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/native/curve"
	"launchpad/state"
	"launchpad/storage"
)

const (
	quoteBuyCommand  = "quote-buy"
	quoteSellCommand = "quote-sell"
	simulateCommand  = "simulate"
	inspectCommand   = "inspect"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case quoteBuyCommand:
		err = runQuote(os.Stdout, curve.SideBuy, os.Args[2:])
	case quoteSellCommand:
		err = runQuote(os.Stdout, curve.SideSell, os.Args[2:])
	case simulateCommand:
		err = runSimulate(os.Stdout, os.Args[2:])
	case inspectCommand:
		err = runInspect(os.Stdout, os.Args[2:])
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: curvectl <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-11s price a buy of -amount base units\n", quoteBuyCommand)
	fmt.Fprintf(w, "  %-11s price a sell of -amount token units\n", quoteSellCommand)
	fmt.Fprintf(w, "  %-11s buy in fixed steps until the curve graduates\n", simulateCommand)
	fmt.Fprintf(w, "  %-11s print curves stored in a state directory\n", inspectCommand)
}

// reserveFlags describes the record a quote is priced against. The defaults
// are a freshly initialised curve.
type reserveFlags struct {
	virtualBase  uint64
	virtualToken uint64
	realBase     uint64
	realToken    uint64
}

func (r *reserveFlags) register(fs *flag.FlagSet) {
	fs.Uint64Var(&r.virtualBase, "virtual-base", curve.InitialVirtualBase, "virtual base reserve")
	fs.Uint64Var(&r.virtualToken, "virtual-token", curve.CurveSupply, "virtual token reserve")
	fs.Uint64Var(&r.realBase, "real-base", 0, "real base reserve")
	fs.Uint64Var(&r.realToken, "real-token", curve.CurveSupply, "real token reserve")
}

func (r *reserveFlags) record() *curve.Curve {
	c := curve.NewCurve(common.Address{}, common.Address{}, "", "", "", 0)
	c.VirtualBase = r.virtualBase
	c.VirtualToken = r.virtualToken
	c.RealBase = r.realBase
	c.RealToken = r.realToken
	return c
}

func runQuote(out io.Writer, side curve.Side, args []string) error {
	fs := flag.NewFlagSet(string(side), flag.ContinueOnError)
	amount := fs.Uint64("amount", 0, "input amount in smallest units")
	asJSON := fs.Bool("json", false, "print the quote as JSON")
	var reserves reserveFlags
	reserves.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c := reserves.record()
	if err := c.CheckInvariants(); err != nil {
		return err
	}
	var (
		q   *curve.Quote
		err error
	)
	if side == curve.SideBuy {
		q, err = curve.PriceBuy(c, *amount)
	} else {
		q, err = curve.PriceSell(c, *amount)
	}
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "side\t%s\n", q.Side)
	fmt.Fprintf(tw, "input\t%d\n", q.Input)
	fmt.Fprintf(tw, "output\t%d\n", q.Output)
	fmt.Fprintf(tw, "fee\t%d\n", q.Fee)
	fmt.Fprintf(tw, "curve\t%d\n", q.Curve)
	fmt.Fprintf(tw, "spot before\t%s\n", q.SpotBefore.FloatString(12))
	fmt.Fprintf(tw, "spot after\t%s\n", q.SpotAfter.FloatString(12))
	fmt.Fprintf(tw, "price impact bps\t%d\n", q.PriceImpactBps)
	fmt.Fprintf(tw, "insufficient liquidity\t%t\n", q.InsufficientLiquidity)
	return tw.Flush()
}

var (
	simAsset  = common.HexToAddress("0x0000000000000000000000000000000000005151")
	simTrader = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
)

func runSimulate(out io.Writer, args []string) error {
	fs := flag.NewFlagSet(simulateCommand, flag.ContinueOnError)
	step := fs.Uint64("step", 1_000_000_000, "base units spent per buy")
	every := fs.Int("every", 10, "print every Nth step")
	maxSteps := fs.Int("max-steps", 100_000, "stop after this many buys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *step == 0 {
		return fmt.Errorf("-step must be positive")
	}
	if *every <= 0 {
		*every = 1
	}

	ledger := state.NewManager(storage.NewMemDB())
	defer ledger.Close()
	engine := curve.NewEngine()
	engine.SetState(ledger)
	if _, err := engine.Initialize(curve.InitializeParams{Asset: simAsset, Creator: simTrader, Name: "Simulation", Symbol: "SIM"}); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "step\tspent\ttokens out\treal base\treal token\tspot\tprogress bps\t")
	var spent, received uint64
	for n := 1; n <= *maxSteps; n++ {
		if _, err := ledger.Credit(simTrader, *step); err != nil {
			return err
		}
		res, err := engine.Buy(curve.BuyParams{Asset: simAsset, Buyer: simTrader, BaseAmount: *step})
		if err != nil {
			return fmt.Errorf("step %d: %w", n, err)
		}
		spent += *step
		received += res.Output
		c := res.Curve
		if n%*every == 0 || res.Graduated {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\t%d\t\n",
				n, spent, res.Output, c.RealBase, c.RealToken, c.SpotPrice().FloatString(12), c.ProgressBps())
		}
		if res.Graduated {
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "graduated after %d buys: spent %d base, received %d tokens, fees %d\n",
				n, spent, received, c.CustodyFees)
			return nil
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "not graduated after %d buys\n", *maxSteps)
	return nil
}

func runInspect(out io.Writer, args []string) error {
	fs := flag.NewFlagSet(inspectCommand, flag.ContinueOnError)
	backend := fs.String("backend", storage.BackendLevelDB, "state backend (leveldb or bolt)")
	path := fs.String("path", "", "state database path")
	assetHex := fs.String("asset", "", "asset address; lists every curve when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("-path is required")
	}
	db, err := storage.Open(*backend, *path, true)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	ledger := state.NewManager(db)
	defer ledger.Close()
	engine := curve.NewEngine()
	engine.SetState(ledger)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if *assetHex == "" {
		curves, err := engine.Curves()
		if err != nil {
			return err
		}
		return enc.Encode(curves)
	}
	if !common.IsHexAddress(*assetHex) {
		return fmt.Errorf("invalid asset address %q", *assetHex)
	}
	asset := common.HexToAddress(*assetHex)
	c, err := engine.Curve(asset)
	if err != nil {
		return err
	}
	supply, err := ledger.TokenSupply(asset)
	if err != nil {
		return err
	}
	return enc.Encode(struct {
		*curve.Curve
		Supply    uint64 `json:"supply"`
		SpotPrice string `json:"spotPrice"`
		Progress  uint64 `json:"progressBps"`
	}{c, supply, c.SpotPrice().FloatString(12), c.ProgressBps()})
}
