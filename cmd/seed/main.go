package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/app"
	"github.com/xtrntr/kdex/internal/auth"
	"github.com/xtrntr/kdex/internal/config"
	"github.com/xtrntr/kdex/internal/db"
	"github.com/xtrntr/kdex/internal/exchange"
	"github.com/xtrntr/kdex/internal/logging"
	"github.com/xtrntr/kdex/internal/models"
	"github.com/xtrntr/kdex/internal/token"
)

// Hardhat accounts #2 and #3; the deployer is the treasury and account #1
// is the default fee account
var (
	user1 = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	user2 = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

// seedPasswordEnv names the variable holding the password given to the
// seeded login accounts. Without it no accounts are created.
const seedPasswordEnv = "KDEX_SEED_PASSWORD"

type seedOrder struct {
	get        string
	amountGet  string
	give       string
	amountGive string
}

type seedFill struct {
	id     uint64
	amount string
	label  string
}

// seeder runs the scenario against one exchange
type seeder struct {
	ctx      context.Context
	ex       *exchange.Exchange
	tokens   map[string]*token.Ledger
	deployer common.Address
}

func (s *seeder) units(symbol, n string) *uint256.Int {
	return models.MustParseUnits(n, s.tokens[symbol].Info().Decimals)
}

func (s *seeder) addr(symbol string) common.Address {
	return s.tokens[symbol].Info().Address
}

func (s *seeder) distribute(to common.Address, symbol, n string) error {
	if err := s.tokens[symbol].Transfer(s.ctx, s.deployer, to, s.units(symbol, n)); err != nil {
		return fmt.Errorf("distribute %s %s: %w", n, symbol, err)
	}
	return nil
}

func (s *seeder) approveAndDeposit(user common.Address, symbol, n string) error {
	amount := s.units(symbol, n)
	if err := s.tokens[symbol].Approve(user, s.ex.Address(), amount); err != nil {
		return err
	}
	if _, err := s.ex.Deposit(s.ctx, user, s.addr(symbol), amount); err != nil {
		return fmt.Errorf("deposit %s %s for %s: %w", n, symbol, user.Hex(), err)
	}
	return nil
}

func (s *seeder) makeOrders(user common.Address, name string, orders []seedOrder) error {
	for _, o := range orders {
		order, err := s.ex.MakeOrder(user,
			s.addr(o.get), s.units(o.get, o.amountGet),
			s.addr(o.give), s.units(o.give, o.amountGive))
		if err != nil {
			return fmt.Errorf("%s order %s %s -> %s %s: %w", name, o.amountGive, o.give, o.amountGet, o.get, err)
		}
		fmt.Printf("📝 %s Order %d: %s %s → %s %s\n", name, order.ID, o.amountGive, o.give, o.amountGet, o.get)
	}
	return nil
}

func (s *seeder) fill(user common.Address, name string, fills []seedFill) error {
	for _, f := range fills {
		o, err := s.ex.Order(f.id)
		if err != nil {
			return err
		}
		get := s.tokens[symbolOf(s.tokens, o.TokenGet)]
		amount := models.MustParseUnits(f.amount, get.Info().Decimals)
		if _, err := s.ex.FillOrder(user, f.id, amount); err != nil {
			return fmt.Errorf("%s fill order %d: %w", name, f.id, err)
		}
		fmt.Printf("✅ %s %s order %d\n", name, f.label, f.id)
	}
	return nil
}

func symbolOf(tokens map[string]*token.Ledger, addr common.Address) string {
	for sym, l := range tokens {
		if l.Info().Address == addr {
			return sym
		}
	}
	return ""
}

func (s *seeder) run() error {
	fmt.Println("💰 Distributing tokens to users...")
	distribution := []struct {
		to     common.Address
		symbol string
		amount string
	}{
		{user1, "KDEX", "50000"},
		{user1, "mUSDT", "10000"},
		{user1, "mUSDC", "10000"},
		{user1, "mETH", "5"},
		{user2, "mUSDT", "15000"},
		{user2, "mUSDC", "15000"},
		{user2, "mETH", "10"},
	}
	for _, d := range distribution {
		if err := s.distribute(d.to, d.symbol, d.amount); err != nil {
			return err
		}
	}

	fmt.Println("🏦 Users depositing tokens to exchange...")
	deposits := []struct {
		user   common.Address
		symbol string
		amount string
	}{
		{user1, "KDEX", "20000"},
		{user1, "mUSDT", "5000"},
		{user1, "mUSDC", "5000"},
		{user1, "mETH", "2"},
		{user2, "mUSDT", "8000"},
		{user2, "mUSDC", "8000"},
		{user2, "mETH", "5"},
	}
	for _, d := range deposits {
		if err := s.approveAndDeposit(d.user, d.symbol, d.amount); err != nil {
			return err
		}
	}

	fmt.Println("📋 Creating orders for user1...")
	if err := s.makeOrders(user1, "User1", []seedOrder{
		{"mUSDT", "1000", "KDEX", "500"},
		{"mUSDC", "800", "KDEX", "400"},
		{"mETH", "1", "KDEX", "2000"},
		{"mUSDC", "1000", "mUSDT", "1000"},
		{"mETH", "1", "mUSDT", "2500"},
	}); err != nil {
		return err
	}

	fmt.Println("🔄 User2 filling some of user1's orders...")
	if err := s.fill(user2, "User2", []seedFill{
		{0, "500", "partially filled (50%)"},
		{1, "800", "completely filled"},
		{3, "300", "partially filled (30%)"},
	}); err != nil {
		return err
	}

	fmt.Println("📋 Creating orders for user2...")
	if err := s.makeOrders(user2, "User2", []seedOrder{
		{"KDEX", "1000", "mUSDT", "2000"},
		{"KDEX", "800", "mUSDC", "1600"},
		{"mUSDT", "3000", "mETH", "1"},
		{"mUSDC", "2500", "mETH", "1"},
	}); err != nil {
		return err
	}

	fmt.Println("🔄 User1 filling some of user2's orders...")
	if err := s.fill(user1, "User1", []seedFill{
		{5, "500", "partially filled (50%)"},
		{8, "2500", "completely filled"},
	}); err != nil {
		return err
	}

	fmt.Println("🏛️ Deployer creating KDEX swap orders...")
	if err := s.approveAndDeposit(s.deployer, "KDEX", "100000"); err != nil {
		return err
	}
	return s.makeOrders(s.deployer, "Deployer", []seedOrder{
		{"mUSDT", "5000", "KDEX", "10000"},
		{"mUSDC", "4000", "KDEX", "8000"},
		{"mETH", "2", "KDEX", "5000"},
	})
}

func (s *seeder) summary(feeAccount common.Address) {
	fmt.Println("\n📊 Seeding Summary:")
	fmt.Printf("Total Orders Created: %d\n", s.ex.TotalOrders())
	fmt.Println("\n💼 Exchange Balances:")
	rows := []struct {
		label  string
		user   common.Address
		symbol string
	}{
		{"User1 KDEX", user1, "KDEX"},
		{"User1 mUSDT", user1, "mUSDT"},
		{"User2 mUSDT", user2, "mUSDT"},
		{"User2 mETH", user2, "mETH"},
		{"Fee Account KDEX", feeAccount, "KDEX"},
	}
	for _, r := range rows {
		l := s.tokens[r.symbol]
		fmt.Printf("%s: %s\n", r.label, models.FormatUnits(s.ex.BalanceOf(r.user, l.Info().Address), l.Info().Decimals))
	}
}

// registerUsers creates login accounts for the two traders. The deployer
// is the treasury, which never gets a login.
func registerUsers(ctx context.Context, svc *auth.AuthService, password string) error {
	accounts := []struct {
		name string
		addr common.Address
	}{
		{"user1", user1},
		{"user2", user2},
	}
	for _, a := range accounts {
		if _, err := svc.Register(ctx, a.name, password, a.addr); err != nil && !errors.Is(err, db.ErrUserExists) {
			return fmt.Errorf("register %s: %w", a.name, err)
		}
	}
	return nil
}

// Seed a fresh exchange with the demo trading scenario
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// The seed never issues tokens, but the shared config requires a secret.
	if os.Getenv("KDEX_JWT_SECRET") == "" {
		os.Setenv("KDEX_JWT_SECRET", "seed")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("seeding failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	if n := a.Exchange.TotalOrders(); n > 0 {
		fmt.Printf("Exchange already has %d orders. No need to seed.\n", n)
		return nil
	}

	fmt.Println("🌱 Starting KDEx ecosystem seeding...")
	s := &seeder{
		ctx:      ctx,
		ex:       a.Exchange,
		tokens:   make(map[string]*token.Ledger),
		deployer: cfg.TreasuryAddress(),
	}
	for _, sym := range []string{"KDEX", "mUSDT", "mUSDC", "mETH"} {
		l, err := a.Tokens.BySymbol(sym)
		if err != nil {
			return err
		}
		s.tokens[sym] = l
	}
	fmt.Printf("Deployer: %s\nFee Account: %s\nUser1: %s\nUser2: %s\n\n",
		s.deployer.Hex(), cfg.FeeAccountAddress().Hex(), user1.Hex(), user2.Hex())

	if err := s.run(); err != nil {
		return err
	}

	if a.DB != nil {
		if password := os.Getenv(seedPasswordEnv); password != "" {
			svc := auth.NewAuthService(a.DB, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL,
				cfg.ExchangeAddress(), cfg.FeeAccountAddress(), cfg.TreasuryAddress())
			if err := registerUsers(ctx, svc, password); err != nil {
				return err
			}
			fmt.Printf("\n🔑 Accounts user1 and user2 registered with the password from %s\n", seedPasswordEnv)
		} else {
			fmt.Printf("\n%s is not set; no login accounts created\n", seedPasswordEnv)
		}
	}

	s.summary(cfg.FeeAccountAddress())
	fmt.Println("\n🎉 KDEx ecosystem seeding complete!")
	return nil
}
