package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/transitlab/dispatchsim/scenario"
	"github.com/transitlab/dispatchsim/sim"
)

var (
	// 配置信息
	mongoURI     = flag.String("mongo_uri", "", "mongo db uri (falls back to MONGO_URI)")
	scenarioStr  = flag.String("scenario", "", "scenario source [format: {fspath} or {db}.{col}], empty means built-in grid")
	scenarioName = flag.String("scenario-name", "default", "scenario document name")
	cacheDir     = flag.String("cache", "", "input cache dir path (empty means disable cache)")
	storeDSN     = flag.String("store", "", "run store dsn [sqlite path or postgres:// uri] (falls back to KPI_STORE_DSN, then :memory:)")
	policyURL    = flag.String("policy", "", "default external dispatch policy endpoint (falls back to POLICY_ENDPOINT)")
	seed         = flag.Int64("seed", 42, "initial rng seed")
	httpEndpoint = flag.String("listen", "localhost:52201", "http listening address")
	logLevel     = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	// 内置网格场景
	gridRows = flag.Int("grid.rows", 6, "built-in grid scenario rows")
	gridCols = flag.Int("grid.cols", 6, "built-in grid scenario cols")
	gridSeed = flag.Int64("grid.seed", 1, "built-in grid scenario seed")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "localhost:52202", "pprof listening address")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// .env仅作为缺省值来源，命令行优先
	_ = godotenv.Load()
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}
	if *mongoURI == "" {
		*mongoURI = os.Getenv("MONGO_URI")
	}
	if *policyURL == "" {
		*policyURL = os.Getenv("POLICY_ENDPOINT")
	}
	if *storeDSN == "" {
		*storeDSN = os.Getenv("KPI_STORE_DSN")
	}
	if *storeDSN == "" {
		*storeDSN = ":memory:"
	}

	// 组装场景与引擎配置
	loc, err := scenario.NewLocator(*scenarioStr)
	if err != nil {
		logrus.Fatalf("invalid scenario source: %s", err)
	}
	var sc *scenario.Scenario
	if loc == nil {
		sc, err = scenario.Grid(*gridRows, *gridCols, *gridSeed)
	} else {
		sc, err = scenario.Load(*mongoURI, loc, *scenarioName, *cacheDir)
	}
	if err != nil {
		logrus.Fatalf("failed to load scenario: %s", err)
	}
	cfg := sim.DefaultConfig()
	sc.Configure(&cfg)
	cfg.Seed = *seed

	server, err := NewSimServer(&cfg, sc.Name, *storeDSN, *policyURL)
	if err != nil {
		logrus.Fatalf("failed to init server: %s", err)
	}

	if *pprofAddr != "" {
		// 启动pprof
		startHTTPDebugger(*pprofAddr)
	}

	if *benchmark {
		// 性能测试
		runBenchmark(&cfg)
		return
	}

	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    *httpEndpoint,
		Handler: h2c.NewHandler(server.Handler(), &http2.Server{}),
	}

	// 优雅退出
	// 创建监听退出chan
	signalCh := make(chan os.Signal, 1)
	// 监听指定信号 ctrl+c kill
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		// 退出http服务
		s.Close()
		// 落盘并关闭存储
		server.Close()
		os.Exit(0)
	}()

	log.Infof("server listening at %v (scenario=%s stops=%d)", s.Addr, sc.Name, len(cfg.Stops))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	time.Sleep(1 * time.Second) // 延迟等待"优雅退出"
	log.Info("dispatchsim closes")
}
