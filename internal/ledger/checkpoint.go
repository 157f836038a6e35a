package ledger

import (
	"sync"

	"bithumb-dip-bot-go/internal/models"
	"bithumb-dip-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// Checkpointer 异步保存账本快照，轮询循环不会阻塞在磁盘写入上。
// 只保留最新的待写快照。
type Checkpointer struct {
	repo            persistence.LedgerRepository
	persistenceChan chan *models.LedgerState
	stopChan        chan struct{}
	done            chan struct{}
	stopOnce        sync.Once
	logger          *zap.Logger
}

// NewCheckpointer creates a Checkpointer. A nil repo makes Submit a no-op.
func NewCheckpointer(repo persistence.LedgerRepository, logger *zap.Logger) *Checkpointer {
	return &Checkpointer{
		repo:            repo,
		persistenceChan: make(chan *models.LedgerState, 1),
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger,
	}
}

// Start 启动持久化循环
func (c *Checkpointer) Start() {
	go c.persistenceLoop()
	c.logger.Sugar().Info("Checkpointer started.")
}

// Stop 写入待保存的快照并等待循环退出
func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		<-c.done
		c.logger.Sugar().Info("Checkpointer stopped.")
	})
}

// Submit queues a snapshot, replacing any snapshot not yet written.
func (c *Checkpointer) Submit(state *models.LedgerState) {
	if c.repo == nil || state == nil {
		return
	}
	for {
		select {
		case c.persistenceChan <- state:
			return
		default:
		}
		select {
		case <-c.persistenceChan:
		default:
		}
	}
}

// Restore loads the last saved checkpoint, or nil when there is none.
func (c *Checkpointer) Restore() (*models.LedgerState, error) {
	if c.repo == nil {
		return nil, nil
	}
	return c.repo.LoadLedger()
}

func (c *Checkpointer) persistenceLoop() {
	defer close(c.done)
	for {
		select {
		case state := <-c.persistenceChan:
			c.save(state)
		case <-c.stopChan:
			select {
			case state := <-c.persistenceChan:
				c.save(state)
			default:
			}
			return
		}
	}
}

func (c *Checkpointer) save(state *models.LedgerState) {
	if err := c.repo.SaveLedger(state); err != nil {
		c.logger.Sugar().Errorf("Failed to save ledger checkpoint: %v", err)
	}
}
