package main

import (
	"flag"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/transitlab/dispatchsim/sim"
)

var (
	benchmarkCount = flag.Int("benchmark.count", 8, "the episode count for benchmark")
	benchmarkTicks = flag.Int("benchmark.ticks", 3600, "ticks per episode for benchmark")
	benchmarkSeed  = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU   = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

func runBenchmark(cfg *sim.Config) {
	log.Logger.SetLevel(logrus.WarnLevel)
	// 设置随机种子
	e := rand.New(rand.NewSource(*benchmarkSeed))
	// 每个episode一台独立引擎，种子各不相同
	seeds := make([]int64, *benchmarkCount)
	for i := range seeds {
		seeds[i] = e.Int63()
	}

	runOne := func(seed int64) (int, bool) {
		c := *cfg
		c.Seed = seed
		c.EpisodeSeconds = float64(*benchmarkTicks) * c.TickSeconds
		engine, err := sim.NewEngine(&c)
		if err != nil {
			log.Error("benchmark failed, err:", err)
			return 0, false
		}
		ticks := 0
		for {
			res, err := engine.Step(0)
			if err != nil {
				log.Error("benchmark failed, err:", err)
				return ticks, false
			}
			ticks++
			if res.Terminated {
				return ticks, true
			}
		}
	}

	// 开始benchmark
	start := time.Now()
	var wg sync.WaitGroup
	var success atomic.Int32
	var totalTicks atomic.Int64
	if *benchmarkCPU == 1 {
		for _, seed := range seeds {
			ticks, ok := runOne(seed)
			totalTicks.Add(int64(ticks))
			if ok {
				success.Add(1)
			}
		}
	} else {
		// 设置cpu数量
		runtime.GOMAXPROCS(*benchmarkCPU)
		wg.Add(len(seeds))
		for _, seed := range seeds {
			go func(seed int64) {
				defer wg.Done()
				ticks, ok := runOne(seed)
				totalTicks.Add(int64(ticks))
				if ok {
					success.Add(1)
				}
				log.Info("benchmark finished one")
			}(seed)
		}
		wg.Wait()
	}
	timeCost := time.Since(start) * time.Duration(*benchmarkCPU)
	log.Error(
		"benchmark finished", "\n",
		"episodes:", *benchmarkCount, "\n",
		"ticks:", totalTicks.Load(), "\n",
		"time:", timeCost, "\n",
		"avg per tick:", timeCost/time.Duration(max(totalTicks.Load(), 1)), "\n",
		"success:", success.Load(), "\n",
	)
}
