package notify

// Notifier 运营通知协作方（尽力而为）
// 调用全部发生在状态变更事务提交之后，发送失败只打日志，
// 绝不回滚已提交的变更，也绝不让调用方感知
type Notifier interface {
	// ProofSubmitted 新凭证待审（附带机器人审核入口）
	ProofSubmitted(invoiceNo string, productName string, amount int64)
	// OutOfStock 账单已收款但库存不足，需要运营补货
	OutOfStock(invoiceNo string, productName string)
	// Approved 审核通过并完成分配
	Approved(invoiceNo string, productName string)
}

// NopNotifier 空实现（未配置 Telegram 时使用）
type NopNotifier struct{}

func (NopNotifier) ProofSubmitted(string, string, int64) {}
func (NopNotifier) OutOfStock(string, string) {}
func (NopNotifier) Approved(string, string) {}
