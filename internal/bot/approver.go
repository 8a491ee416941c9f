package bot

import (
	"context"
	"errors"
	"log"
	"strings"

	"digishop/internal/config"
	"digishop/internal/model"
	"digishop/internal/repository"
	"digishop/internal/service"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// 机器人按钮拒绝时没法输入自由文本，用固定原因
const botRejectReason = "凭证不符合要求，请重新上传"

// Approver Telegram 审核适配器
// 只做一件事：把白名单运营按下的 inline 按钮翻译成与管理后台
// 完全相同的审核调用（actor 标签为 bot），不含任何业务逻辑
type Approver struct {
	bot         *tgbot.Bot
	approvalSvc *service.ApprovalService
	operators   map[int64]bool
}

func NewApprover(b *tgbot.Bot, cfg *config.TelegramConfig, approvalSvc *service.ApprovalService) *Approver {
	a := &Approver{
		bot:         b,
		approvalSvc: approvalSvc,
		operators:   make(map[int64]bool, len(cfg.OperatorIDs)),
	}
	for _, id := range cfg.OperatorIDs {
		a.operators[id] = true
	}

	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, "inv:", tgbot.MatchTypePrefix, a.handleCallback)
	return a
}

// Start 长轮询，阻塞到 ctx 取消
func (a *Approver) Start(ctx context.Context) {
	log.Println("[Bot] Telegram 审核机器人启动")
	a.bot.Start(ctx)
}

// handleCallback 处理 inv:approve:<账单号> / inv:reject:<账单号>
func (a *Approver) handleCallback(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	if !a.operators[cq.From.ID] {
		a.answer(ctx, cq.ID, "你不在运营白名单里", true)
		return
	}

	parts := strings.Split(cq.Data, ":")
	if len(parts) != 3 {
		a.answer(ctx, cq.ID, "回调数据格式错误", true)
		return
	}
	action, invoiceNo := parts[1], parts[2]

	var text string
	switch action {
	case "approve":
		result, err := a.approvalSvc.Approve(ctx, invoiceNo, cq.From.ID, model.ActorBot)
		switch {
		case err == nil && result.Assigned:
			text = "✅ 已通过并发货: " + invoiceNo
		case err == nil:
			text = "⚠️ 已通过但库存不足: " + invoiceNo
		default:
			text = a.errorText(err)
		}
	case "reject":
		err := a.approvalSvc.Reject(ctx, invoiceNo, botRejectReason, cq.From.ID, model.ActorBot)
		if err == nil {
			text = "❌ 已拒绝: " + invoiceNo
		} else {
			text = a.errorText(err)
		}
	default:
		text = "未知操作"
	}

	a.answer(ctx, cq.ID, text, false)
}

func (a *Approver) errorText(err error) string {
	switch {
	case errors.Is(err, repository.ErrInvoiceStateInvalid):
		return "账单已处理，请勿重复操作"
	case errors.Is(err, repository.ErrInvoiceNotFound):
		return "账单不存在"
	default:
		log.Printf("[Bot] 审核操作失败: %v", err)
		return "操作失败，请稍后重试"
	}
}

func (a *Approver) answer(ctx context.Context, callbackID, text string, alert bool) {
	_, err := a.bot.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		log.Printf("[Bot] 回应回调失败: %v", err)
	}
}
