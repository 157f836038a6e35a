package reporter

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"bithumb-dip-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储本次运行的交易绩效指标
// 绩效只统计由本程序开仓的持仓；对账接管的持仓单独统计
type Metrics struct {
	Buys             int
	TotalTrades      int // 已平仓的自有持仓
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	TotalProfit      float64
	MaxDrawdown      float64 // 以计价货币表示的已实现盈亏最大回撤
	ReconciledSells  int
	ReconciledProfit float64
	StartTime        time.Time
	EndTime          time.Time
}

// Session 收集交易事件并在运行结束时生成报告。它实现了 eventstream.Sink。
type Session struct {
	mu     sync.Mutex
	start  time.Time
	events []models.TradeEvent
}

func NewSession(start time.Time) *Session {
	return &Session{start: start}
}

func (s *Session) Publish(ev models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Metrics 计算截至 end 的绩效指标
func (s *Session) Metrics(end time.Time) Metrics {
	s.mu.Lock()
	events := append([]models.TradeEvent(nil), s.events...)
	s.mu.Unlock()

	m := calculateMetrics(events)
	m.StartTime = s.start
	m.EndTime = end
	return m
}

func calculateMetrics(events []models.TradeEvent) Metrics {
	var m Metrics
	var totalProfit, totalLoss float64
	var curve []float64
	cumulative := 0.0

	for _, ev := range events {
		if ev.Action == models.Buy {
			m.Buys++
			continue
		}
		if ev.Origin == models.OriginReconciled {
			m.ReconciledSells++
			m.ReconciledProfit += ev.ProfitAbs
			continue
		}
		m.TotalTrades++
		if ev.ProfitAbs > 0 {
			m.WinningTrades++
			totalProfit += ev.ProfitAbs
		} else {
			m.LosingTrades++
			totalLoss += ev.ProfitAbs
		}
		cumulative += ev.ProfitAbs
		curve = append(curve, cumulative)
	}

	m.TotalProfit = totalProfit + totalLoss
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve)
	return m
}

// calculateMaxDrawdown 在从 0 开始的累计已实现盈亏曲线上计算最大回撤
func calculateMaxDrawdown(curve []float64) float64 {
	peak := 0.0
	maxDrawdown := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := peak - v; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// GenerateReport 打印运行报告
func GenerateReport(w io.Writer, m Metrics) {
	t := table.NewWriter()
	t.SetTitle("运行结果报告")
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"运行周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"买入次数", m.Buys},
		{"平仓次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"已实现盈亏", models.FormatKRW(m.TotalProfit) + "원"},
		{"最大回撤", models.FormatKRW(m.MaxDrawdown) + "원"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"对账接管平仓 (不计入绩效)", m.ReconciledSells},
		{"对账接管盈亏", models.FormatKRW(m.ReconciledProfit) + "원"},
	})
	fmt.Fprintln(w, t.Render())
}

// RenderPositions 渲染当前持仓表。prices 中缺失的币种显示为 "-"。
func RenderPositions(positions []models.Position, prices map[string]float64) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Coin", "Amount", "Buy", "Price", "PnL", "High", "Trailing", "Origin"})
	for _, p := range positions {
		price, pnl := "-", "-"
		if px, ok := prices[p.Coin]; ok && px > 0 {
			price = models.FormatKRW(px)
			pnl = models.FormatSignedPct(p.PnL(px)*100) + "%"
		}
		t.AppendRow(table.Row{
			p.Coin,
			fmt.Sprintf("%.6f", p.Amount),
			models.FormatKRW(p.BuyPrice),
			price,
			pnl,
			models.FormatKRW(p.HighestPriceSeen),
			p.TrailingActive,
			string(p.Origin),
		})
	}
	if len(positions) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", "", "", "", ""})
	}
	return t.Render()
}
