package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramNotifier 把运营通知推到 Telegram 管理群
// 新凭证通知附带 inline 按钮，白名单运营可以直接在群里审核
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegramNotifier(b *bot.Bot, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: b, chatID: chatID}
}

func (n *TelegramNotifier) ProofSubmitted(invoiceNo string, productName string, amount int64) {
	text := fmt.Sprintf("🧾 新付款凭证待审\n账单: %s\n商品: %s\n金额: %d", invoiceNo, productName, amount)

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "✅ 通过", CallbackData: "inv:approve:" + invoiceNo},
			{Text: "❌ 拒绝", CallbackData: "inv:reject:" + invoiceNo},
		}},
	}

	n.send(&bot.SendMessageParams{
		ChatID:      n.chatID,
		Text:        text,
		ReplyMarkup: keyboard,
	})
}

func (n *TelegramNotifier) OutOfStock(invoiceNo string, productName string) {
	text := fmt.Sprintf("⚠️ 已收款但库存不足\n账单: %s\n商品: %s\n请尽快补货并重新分配", invoiceNo, productName)
	n.send(&bot.SendMessageParams{ChatID: n.chatID, Text: text})
}

func (n *TelegramNotifier) Approved(invoiceNo string, productName string) {
	text := fmt.Sprintf("✅ 审核通过并已发货\n账单: %s\n商品: %s", invoiceNo, productName)
	n.send(&bot.SendMessageParams{ChatID: n.chatID, Text: text})
}

func (n *TelegramNotifier) send(params *bot.SendMessageParams) {
	if n.chatID == 0 {
		return
	}

	// 独立超时上下文：通知绝不拖住业务调用方
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := n.bot.SendMessage(ctx, params); err != nil {
		log.Printf("[Notify] Telegram 发送失败: %v", err)
	}
}
