// Package bot is the Discord command surface. It contains no economy rules:
// every command parses input, calls one engine operation, and renders the
// result or the failure kind back to the user.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campton/internal/ledger"
	"campton/internal/market"
	"campton/internal/persist"
	"campton/internal/sched"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
)

type Bot struct {
	session   *discordgo.Session
	engine    *market.Engine
	scheduler *sched.Scheduler
	gateway   *persist.Gateway
	log       *slog.Logger

	announceChannel string
	ownerID         string
	coOwners        map[string]struct{}
}

func New(session *discordgo.Session, engine *market.Engine, scheduler *sched.Scheduler, gateway *persist.Gateway, logger *slog.Logger, announceChannel, ownerID string, coOwnerIDs []string) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	coOwners := make(map[string]struct{}, len(coOwnerIDs))
	for _, id := range coOwnerIDs {
		coOwners[id] = struct{}{}
	}
	return &Bot{
		session:         session,
		engine:          engine,
		scheduler:       scheduler,
		gateway:         gateway,
		log:             logger,
		announceChannel: announceChannel,
		ownerID:         ownerID,
		coOwners:        coOwners,
	}
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(b.handleInteraction)
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	for _, cmd := range commandDefinitions() {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", cmd); err != nil {
			b.log.Warn("register command failed", "command", cmd.Name, "err", err)
		}
	}
	b.log.Info("discord adapter ready", "user", b.session.State.User.Username)
	return nil
}

func (b *Bot) Close() {
	if err := b.session.Close(); err != nil {
		b.log.Warn("discord session close", "err", err)
	}
}

func (b *Bot) isOwner(userID string) bool {
	return userID != "" && userID == b.ownerID
}

func (b *Bot) isCoOwner(userID string) bool {
	if b.isOwner(userID) {
		return true
	}
	_, ok := b.coOwners[userID]
	return ok
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	amountOpt := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionNumber,
			Name:        name,
			Description: desc,
			Required:    true,
		}
	}
	userOpt := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}
	return []*discordgo.ApplicationCommand{
		{Name: "price", Description: "View the current Campton Coin price"},
		{Name: "balance", Description: "View a balance", Options: []*discordgo.ApplicationCommandOption{
			userOpt("member", "Whose balance (defaults to you)", false),
		}},
		{Name: "buy", Description: "Buy coins with cash", Options: []*discordgo.ApplicationCommandOption{
			amountOpt("cash", "Cash to spend"),
		}},
		{Name: "sell", Description: "Sell coins for cash", Options: []*discordgo.ApplicationCommandOption{
			amountOpt("quantity", "Coins to sell"),
		}},
		{Name: "transfer", Description: "Send cash or coins to another user", Options: []*discordgo.ApplicationCommandOption{
			userOpt("member", "Recipient", true),
			amountOpt("amount", "Amount to send"),
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "kind",
				Description: "What to send",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "cash", Value: string(market.TransferCash)},
					{Name: "coin", Value: string(market.TransferCoin)},
				},
			},
		}},
		{Name: "setprice", Description: "Set the coin price (owner only)", Options: []*discordgo.ApplicationCommandOption{
			amountOpt("amount", "New price"),
		}},
		{Name: "addfunds", Description: "Add cash to a user (admin)", Options: []*discordgo.ApplicationCommandOption{
			userOpt("member", "Target user", true),
			amountOpt("amount", "Cash to add"),
		}},
		{Name: "addcoins", Description: "Add coins to a user (admin)", Options: []*discordgo.ApplicationCommandOption{
			userOpt("member", "Target user", true),
			amountOpt("amount", "Coins to add"),
		}},
		{Name: "convert", Description: "Force the scheduled conversion now (admin)"},
		{Name: "save", Description: "Force a backup save now (admin)"},
		{Name: "announce", Description: "Post an announcement (admin)", Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "message",
				Description: "Announcement text",
				Required:    true,
			},
		}},
	}
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	userID := interactionUserID(i)

	switch data.Name {
	case "price":
		b.respond(i, fmt.Sprintf("Current price: **$%s**", b.engine.Store().MarketPrice().StringFixed(2)))
	case "balance":
		target := userID
		if u := optionUser(s, data, "member"); u != nil {
			target = u.ID
		}
		acct := b.engine.Store().GetAccount(target)
		b.respond(i, formatBalance(target, acct))
	case "buy":
		receipt, err := b.engine.Buy(userID, optionAmount(data, "cash"))
		if err != nil {
			b.respond(i, messageForErr(err))
			return
		}
		b.respond(i, fmt.Sprintf("Bought **%s coins** for **$%s**", receipt.Quantity.String(), receipt.Cash.StringFixed(2)))
	case "sell":
		receipt, err := b.engine.Sell(userID, optionAmount(data, "quantity"))
		if err != nil {
			b.respond(i, messageForErr(err))
			return
		}
		b.respond(i, fmt.Sprintf("Sold **%s coins** for **$%s**", receipt.Quantity.String(), receipt.Cash.StringFixed(2)))
	case "transfer":
		recipient := optionUser(s, data, "member")
		if recipient == nil {
			b.respond(i, "Recipient not found.")
			return
		}
		kind := market.TransferKind(optionString(data, "kind"))
		receipt, err := b.engine.Transfer(userID, recipient.ID, optionAmount(data, "amount"), kind)
		if err != nil {
			b.respond(i, messageForErr(err))
			return
		}
		b.respond(i, fmt.Sprintf("Sent **%s %s** to <@%s>", receipt.Amount.String(), kind, recipient.ID))
	case "setprice":
		if !b.isOwner(userID) {
			b.respond(i, "Owner only.")
			return
		}
		applied, err := b.engine.SetPrice(optionAmount(data, "amount"))
		if err != nil {
			b.respond(i, messageForErr(err))
			return
		}
		b.respond(i, fmt.Sprintf("Price set to **$%s**", applied.StringFixed(2)))
	case "addfunds":
		b.handleAdjust(s, i, data, true)
	case "addcoins":
		b.handleAdjust(s, i, data, false)
	case "convert":
		if !b.isCoOwner(userID) {
			b.respond(i, "Admin only.")
			return
		}
		b.scheduler.TriggerConversion()
		b.respond(i, "Conversion triggered.")
	case "save":
		if !b.isCoOwner(userID) {
			b.respond(i, "Admin only.")
			return
		}
		if err := b.gateway.Save(context.Background(), b.engine.Store().CloneSnapshot()); err != nil {
			b.respond(i, "Save failed, check logs.")
			return
		}
		b.respond(i, "Backup saved.")
	case "announce":
		if !b.isCoOwner(userID) {
			b.respond(i, "Admin only.")
			return
		}
		b.announce(fmt.Sprintf("📢 **Announcement**\n%s", optionString(data, "message")))
		b.respond(i, "Announcement sent.")
	}
}

func (b *Bot) handleAdjust(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData, cash bool) {
	if !b.isCoOwner(interactionUserID(i)) {
		b.respond(i, "Admin only.")
		return
	}
	target := optionUser(s, data, "member")
	if target == nil {
		b.respond(i, "Target user not found.")
		return
	}
	amount := optionAmount(data, "amount")
	var err error
	if cash {
		_, err = b.engine.AdjustBalance(target.ID, amount)
	} else {
		_, err = b.engine.AdjustHolding(target.ID, amount)
	}
	if err != nil {
		b.respond(i, messageForErr(err))
		return
	}
	unit := "coins"
	if cash {
		unit = "$"
	}
	b.respond(i, fmt.Sprintf("Added **%s %s** to <@%s>", amount.String(), unit, target.ID))
}

// AnnouncePrice implements sched.Notifier.
func (b *Bot) AnnouncePrice(update market.PriceUpdate) {
	direction := "held steady at"
	switch {
	case update.NewPrice.GreaterThan(update.OldPrice):
		direction = "rose to"
	case update.NewPrice.LessThan(update.OldPrice):
		direction = "fell to"
	}
	b.announce(fmt.Sprintf("📈 Campton Coin %s **$%s** (was $%s)",
		direction, update.NewPrice.StringFixed(2), update.OldPrice.StringFixed(2)))
}

// AnnounceConversion implements sched.Notifier.
func (b *Bot) AnnounceConversion(result market.ConversionResult) {
	if result.Converted == 0 {
		b.announce("💱 Scheduled conversion ran; no holdings to convert.")
		return
	}
	b.announce(fmt.Sprintf(
		"💱 Scheduled conversion complete: **%d** holders paid out at **$%s**. Buying reopens at the next price update.",
		result.Converted, result.Price.StringFixed(2)))
}

// AnnounceCountdown implements sched.Notifier.
func (b *Bot) AnnounceCountdown(remaining time.Duration, deadline time.Time) {
	days := int(remaining.Hours()) / 24
	hours := int(remaining.Hours()) % 24
	b.announce(fmt.Sprintf("⏳ Next conversion in **%dd %dh** (%s)",
		days, hours, deadline.UTC().Format("Jan 2 15:04 MST")))
}

func (b *Bot) announce(content string) {
	if b.announceChannel == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(b.announceChannel, content); err != nil {
		b.log.Warn("announcement failed", "err", err)
	}
}

func (b *Bot) respond(i *discordgo.InteractionCreate, content string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.log.Warn("interaction respond failed", "err", err)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionAmount(data discordgo.ApplicationCommandInteractionData, name string) decimal.Decimal {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionNumber {
			return decimal.NewFromFloat(opt.FloatValue())
		}
	}
	return decimal.Zero
}

func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func optionUser(s *discordgo.Session, data discordgo.ApplicationCommandInteractionData, name string) *discordgo.User {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionUser {
			return opt.UserValue(s)
		}
	}
	return nil
}

func formatBalance(userID string, acct ledger.Account) string {
	return fmt.Sprintf("<@%s>\nCash: **$%s**\nCoins: **%s**",
		userID, acct.Balance.StringFixed(2), acct.Holding.String())
}

func messageForErr(err error) string {
	switch {
	case errors.Is(err, market.ErrOnCooldown):
		return "You are on buy cooldown until the next price update."
	case errors.Is(err, market.ErrInvalidAmount):
		return "Invalid amount."
	case errors.Is(err, market.ErrInsufficientFunds):
		return "Not enough cash."
	case errors.Is(err, market.ErrInsufficientHoldings):
		return "Not enough coins."
	case errors.Is(err, market.ErrSelfTransfer):
		return "You cannot transfer to yourself."
	default:
		return "Something went wrong, try again later."
	}
}
