package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
)

// Config 压测配置
type Config struct {
	Target       string        // WebSocket URL
	Secret       string        // 服务端 jwt.secret，用于签发测试 token
	UserType     string        // 测试用户类型
	BaseUserID   uint64        // 起始用户ID
	Conns        int           // 总连接数
	Fanout       int           // 每个连接订阅的相邻用户数
	Duration     time.Duration // 压测持续时间
	Ramp         time.Duration // 爬坡时间
	PingInterval time.Duration // 心跳间隔
	Output       string        // 输出格式：text, json
	Verbose      bool
}

// Stats 统计数据
type Stats struct {
	mu sync.Mutex

	TotalAttempts int64
	SuccessConns  int64
	FailedConns   int64
	CurrentConns  int64
	Disconnects   int64

	PingsSent     int64
	PongsReceived int64

	// presence_change 事件
	PresenceEvents int64
	OnlineEvents   int64
	OfflineEvents  int64

	ConnLatencies     []int64 // 纳秒
	PresenceLatencies []int64 // 事件时间戳到收到的间隔，毫秒

	Errors map[string]int64

	StartTime time.Time
	EndTime   time.Time
}

// LatencyStats 延迟统计（毫秒）
type LatencyStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"std_dev"`
}

// Result 压测结果
type Result struct {
	Target          string           `json:"target"`
	Conns           int              `json:"conns"`
	Fanout          int              `json:"fanout"`
	SuccessConns    int64            `json:"success_conns"`
	FailedConns     int64            `json:"failed_conns"`
	SuccessRate     float64          `json:"success_rate_percent"`
	Disconnects     int64            `json:"disconnects"`
	ConnLatency     LatencyStats     `json:"conn_latency_ms"`
	PresenceEvents  int64            `json:"presence_events"`
	OnlineEvents    int64            `json:"online_events"`
	OfflineEvents   int64            `json:"offline_events"`
	PresenceLatency LatencyStats     `json:"presence_latency_ms"`
	PongRate        float64          `json:"pong_rate_percent"`
	Errors          map[string]int64 `json:"errors"`
	ActualTime      float64          `json:"actual_time_seconds"`
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

type presenceChange struct {
	UserID uint64 `json:"userId"`
	Status string `json:"status"`
}

// Conn WebSocket 连接包装，写操作需要加锁
type Conn struct {
	userID uint64
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func main() {
	cfg := parseFlags()

	fmt.Println("=== presencebench - 在线状态压测工具 ===")
	fmt.Printf("目标: %s\n", cfg.Target)
	fmt.Printf("连接数: %d，每连接订阅: %d\n", cfg.Conns, cfg.Fanout)
	fmt.Printf("持续时间: %s，爬坡时间: %s\n\n", cfg.Duration, cfg.Ramp)

	stats := &Stats{Errors: make(map[string]int64), StartTime: time.Now()}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runBench(ctx, cfg, stats)
	stats.EndTime = time.Now()

	result := generateResult(cfg, stats)
	if cfg.Output == "json" {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	outputText(result)
}

func parseFlags() Config {
	cfg := Config{}
	var base uint64

	flag.StringVar(&cfg.Target, "target", "ws://localhost:8090/ws", "WebSocket URL")
	flag.StringVar(&cfg.Secret, "secret", "dev-secret-change-me", "jwt.secret")
	flag.StringVar(&cfg.UserType, "user-type", "employee", "用户类型")
	flag.Uint64Var(&base, "base-user", 100000, "起始用户ID")
	flag.IntVar(&cfg.Conns, "conns", 500, "总连接数")
	flag.IntVar(&cfg.Fanout, "fanout", 5, "每个连接订阅的相邻用户数")
	flag.DurationVar(&cfg.Duration, "duration", 2*time.Minute, "压测持续时间")
	flag.DurationVar(&cfg.Ramp, "ramp", 30*time.Second, "爬坡时间")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", 30*time.Second, "心跳间隔")
	flag.StringVar(&cfg.Output, "output", "text", "输出格式: text, json")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "详细输出")
	flag.Parse()

	cfg.BaseUserID = base
	return cfg
}

func runBench(ctx context.Context, cfg Config, stats *Stats) {
	interval := cfg.Ramp / time.Duration(max(cfg.Conns, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}

	bar := progressbar.NewOptions(cfg.Conns,
		progressbar.OptionSetDescription("建立连接"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("conn"),
	)

	runCtx, stop := context.WithTimeout(ctx, cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

ramp:
	for i := 0; i < cfg.Conns; i++ {
		select {
		case <-runCtx.Done():
			break ramp
		case <-ticker.C:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := dial(runCtx, cfg, cfg.BaseUserID+uint64(i), stats)
			_ = bar.Add(1)
			if c == nil {
				return
			}
			subscribe(c, cfg, i, stats)
			runConnection(runCtx, c, cfg, stats)
		}(i)
	}
	_ = bar.Finish()
	fmt.Println()

	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		case <-report.C:
			printProgress(stats)
		}
	}
}

func dial(ctx context.Context, cfg Config, userID uint64, stats *Stats) *Conn {
	atomic.AddInt64(&stats.TotalAttempts, 1)
	start := time.Now()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   userID,
		"user_type": cfg.UserType,
		"exp":       time.Now().Add(cfg.Duration + time.Hour).Unix(),
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		recordError(stats, "sign_token")
		atomic.AddInt64(&stats.FailedConns, 1)
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, cfg.Target+"?token="+url.QueryEscape(token), http.Header{})
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		recordError(stats, err.Error())
		if cfg.Verbose {
			fmt.Printf("用户 %d 连接失败: %v\n", userID, err)
		}
		return nil
	}

	stats.mu.Lock()
	stats.ConnLatencies = append(stats.ConnLatencies, time.Since(start).Nanoseconds())
	stats.mu.Unlock()
	atomic.AddInt64(&stats.SuccessConns, 1)
	atomic.AddInt64(&stats.CurrentConns, 1)

	return &Conn{userID: userID, conn: ws}
}

// subscribe 订阅后面 fanout 个用户，这些用户上线时会收到 presence_change
func subscribe(c *Conn, cfg Config, i int, stats *Stats) {
	if cfg.Fanout <= 0 {
		return
	}
	ids := make([]uint64, 0, cfg.Fanout)
	for k := 1; k <= cfg.Fanout; k++ {
		ids = append(ids, cfg.BaseUserID+uint64((i+k)%cfg.Conns))
	}
	data, _ := json.Marshal(map[string][]uint64{"userIds": ids})
	if err := c.writeJSON(wsMessage{Type: "presence_subscribe", Data: data, Ts: time.Now().UnixMilli()}); err != nil {
		recordError(stats, "subscribe_failed")
	}
}

func runConnection(ctx context.Context, c *Conn, cfg Config, stats *Stats) {
	defer func() {
		c.conn.Close()
		atomic.AddInt64(&stats.CurrentConns, -1)
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_ = c.conn.SetReadDeadline(time.Now().Add(3 * cfg.PingInterval))
			_, raw, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					atomic.AddInt64(&stats.Disconnects, 1)
				}
				return
			}
			handleMessage(raw, stats)
		}
	}()

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-ping.C:
			if err := c.writeJSON(wsMessage{Type: "ping", Ts: time.Now().UnixMilli()}); err != nil {
				recordError(stats, "ping_failed")
				continue
			}
			atomic.AddInt64(&stats.PingsSent, 1)
		}
	}
}

func handleMessage(raw []byte, stats *Stats) {
	var msg wsMessage
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	switch msg.Type {
	case "pong":
		atomic.AddInt64(&stats.PongsReceived, 1)
	case "presence_change":
		atomic.AddInt64(&stats.PresenceEvents, 1)
		var change presenceChange
		if json.Unmarshal(msg.Data, &change) == nil {
			if change.Status == "online" {
				atomic.AddInt64(&stats.OnlineEvents, 1)
			} else {
				atomic.AddInt64(&stats.OfflineEvents, 1)
			}
		}
		if msg.Ts > 0 {
			stats.mu.Lock()
			stats.PresenceLatencies = append(stats.PresenceLatencies, (time.Now().UnixMilli()-msg.Ts)*int64(time.Millisecond))
			stats.mu.Unlock()
		}
	}
}

func recordError(stats *Stats, err string) {
	if len(err) > 50 {
		err = err[:50]
	}
	stats.mu.Lock()
	stats.Errors[err]++
	stats.mu.Unlock()
}

func printProgress(stats *Stats) {
	fmt.Printf("[%s] 当前连接: %d | 失败: %d | presence 事件: %d | Ping/Pong: %d/%d\n",
		time.Since(stats.StartTime).Round(time.Second),
		atomic.LoadInt64(&stats.CurrentConns),
		atomic.LoadInt64(&stats.FailedConns),
		atomic.LoadInt64(&stats.PresenceEvents),
		atomic.LoadInt64(&stats.PingsSent),
		atomic.LoadInt64(&stats.PongsReceived))
}

func generateResult(cfg Config, stats *Stats) Result {
	result := Result{
		Target:          cfg.Target,
		Conns:           cfg.Conns,
		Fanout:          cfg.Fanout,
		SuccessConns:    stats.SuccessConns,
		FailedConns:     stats.FailedConns,
		Disconnects:     stats.Disconnects,
		ConnLatency:     calculateLatencyStats(stats.ConnLatencies),
		PresenceEvents:  stats.PresenceEvents,
		OnlineEvents:    stats.OnlineEvents,
		OfflineEvents:   stats.OfflineEvents,
		PresenceLatency: calculateLatencyStats(stats.PresenceLatencies),
		Errors:          stats.Errors,
		ActualTime:      stats.EndTime.Sub(stats.StartTime).Seconds(),
	}
	if stats.TotalAttempts > 0 {
		result.SuccessRate = float64(stats.SuccessConns) / float64(stats.TotalAttempts) * 100
	}
	if stats.PingsSent > 0 {
		result.PongRate = float64(stats.PongsReceived) / float64(stats.PingsSent) * 100
	}
	return result
}

func calculateLatencyStats(latencies []int64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := append([]int64(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	toMs := func(ns float64) float64 { return ns / 1e6 }

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	avg := sum / float64(len(sorted))

	var variance float64
	for _, v := range sorted {
		diff := float64(v) - avg
		variance += diff * diff
	}
	variance /= float64(len(sorted))

	at := func(p int) float64 { return toMs(float64(sorted[len(sorted)*p/100])) }
	return LatencyStats{
		Min:    toMs(float64(sorted[0])),
		Max:    toMs(float64(sorted[len(sorted)-1])),
		Avg:    toMs(avg),
		P50:    at(50),
		P90:    at(90),
		P99:    at(99),
		StdDev: toMs(math.Sqrt(variance)),
	}
}

func outputText(r Result) {
	w := os.Stdout
	fmt.Fprintln(w, "==================== 压测结果 ====================")
	fmt.Fprintf(w, "成功连接数:     %d / %d (%.2f%%)\n", r.SuccessConns, r.Conns, r.SuccessRate)
	fmt.Fprintf(w, "失败连接数:     %d\n", r.FailedConns)
	fmt.Fprintf(w, "异常断开数:     %d\n", r.Disconnects)
	fmt.Fprintf(w, "连接延迟 (ms):  P50 %.2f | P90 %.2f | P99 %.2f | Max %.2f\n",
		r.ConnLatency.P50, r.ConnLatency.P90, r.ConnLatency.P99, r.ConnLatency.Max)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "presence 事件:  %d (online %d / offline %d)\n", r.PresenceEvents, r.OnlineEvents, r.OfflineEvents)
	fmt.Fprintf(w, "事件延迟 (ms):  P50 %.2f | P90 %.2f | P99 %.2f | Max %.2f\n",
		r.PresenceLatency.P50, r.PresenceLatency.P90, r.PresenceLatency.P99, r.PresenceLatency.Max)
	fmt.Fprintf(w, "Pong 响应率:    %.2f%%\n", r.PongRate)
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\n--- 错误统计 ---")
		for err, count := range r.Errors {
			fmt.Fprintf(w, "%s: %d\n", err, count)
		}
	}
	fmt.Fprintf(w, "\n--- 运行时间: %.2f 秒 ---\n", r.ActualTime)
}
