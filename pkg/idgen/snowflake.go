package idgen

import (
	"strconv"
	"sync"
	"time"
)

// SnowflakeIDGenerator 简化的雪花ID生成器
// ID格式: 时间戳(秒) + 机器ID(2位) + 序列号(3位)，按时间单调递增
type SnowflakeIDGenerator struct {
	mu        sync.Mutex
	epoch     int64 // 起始时间戳 (2024-01-01 00:00:00)
	machineID int64 // 机器ID (0-99)
	sequence  int64 // 序列号 (0-999)
	lastTime  int64 // 上次生成ID的时间戳
	now       func() time.Time
}

const (
	maxMachineID = 99
	maxSequence  = 999
)

// NewSnowflakeIDGenerator 创建ID生成器
// machineID: 机器ID，范围 0-99，越界时取 0
func NewSnowflakeIDGenerator(machineID int64) *SnowflakeIDGenerator {
	if machineID < 0 || machineID > maxMachineID {
		machineID = 0
	}

	return &SnowflakeIDGenerator{
		epoch:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		machineID: machineID,
		now:       time.Now,
	}
}

// NextID 生成下一个ID
func (g *SnowflakeIDGenerator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().Unix()

	if now <= g.lastTime {
		// 同一秒内（或时钟回拨），沿用上次时间戳，序列号递增
		now = g.lastTime
		g.sequence = (g.sequence + 1) % (maxSequence + 1)
		if g.sequence == 0 {
			// 序列号用尽，借用下一秒
			now = g.lastTime + 1
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	return (now-g.epoch)*100000 + g.machineID*1000 + g.sequence
}

// NextString 生成字符串形式的ID（用作订单号）
func (g *SnowflakeIDGenerator) NextString() string {
	return strconv.FormatInt(g.NextID(), 10)
}
