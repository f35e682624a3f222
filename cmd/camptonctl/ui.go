package main

import (
	"fmt"
	"time"

	cl "campton/internal/cli"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func renderPrice(info cl.PriceInfo) {
	accent.Println("\n== CAMPTON COIN ==")
	fmt.Printf("Price:               $%s\n", info.Price.StringFixed(2))
	fmt.Printf("Conversion deadline: %s\n", info.NextConversionDeadline.Local().Format("2006-01-02 15:04 MST"))
	remaining := time.Until(info.NextConversionDeadline)
	if remaining < 0 {
		remaining = 0
	}
	fmt.Printf("Time remaining:      %dd %dh\n", int(remaining.Hours())/24, int(remaining.Hours())%24)
	fmt.Println()
}

func renderAccount(acct cl.AccountInfo) {
	accent.Printf("\n== ACCOUNT %s ==\n", acct.UserID)
	fmt.Printf("Cash:  $%s\n", acct.Balance.StringFixed(2))
	fmt.Printf("Coins: %s\n", acct.Holding.String())
	if acct.OnBuyCooldown {
		danger.Println("On buy cooldown until the next price update.")
	}
	fmt.Println()
}

func renderLeaderboard(rows []cl.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		neutral.Println("No accounts yet.")
		return
	}
	fmt.Printf("%-6s %-22s %14s %14s %14s\n", "RANK", "USER", "CASH", "COINS", "NET WORTH")
	for _, row := range rows {
		fmt.Printf("%-6d %-22s %14s %14s %14s\n",
			row.Rank,
			row.UserID,
			row.Balance.StringFixed(2),
			row.Holding.String(),
			row.NetWorth.StringFixed(2),
		)
	}
	fmt.Println()
}
