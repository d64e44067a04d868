package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MorseWayne/caseshop/internal/repo"
)

// maxOrderNumberAttempts 订单号冲突时的最大生成次数
const maxOrderNumberAttempts = 5

// orderNumberGenerator 生成 ORD<毫秒时间戳> 形式的订单号，冲突时追加随机后缀
type orderNumberGenerator struct {
	orders repo.OrderRepository
	now    func() time.Time
	suffix func() string
}

func newOrderNumberGenerator(orders repo.OrderRepository) *orderNumberGenerator {
	return &orderNumberGenerator{
		orders: orders,
		now:    time.Now,
		suffix: randomSuffix,
	}
}

// randomSuffix 8 位十六进制
func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// next 生成候选订单号。collided 表示上一次候选已被占用，此时直接加后缀。
// 候选只是提示，唯一性最终由存储层的唯一约束保证。
func (g *orderNumberGenerator) next(ctx context.Context, collided bool) (string, error) {
	base := "ORD" + strconv.FormatInt(g.now().UnixMilli(), 10)
	if !collided {
		exists, err := g.orders.ExistsByNumber(ctx, base)
		if err != nil {
			return "", err
		}
		if !exists {
			return base, nil
		}
	}
	return base + "-" + g.suffix(), nil
}
