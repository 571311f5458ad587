package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Locator 场景来源：文件路径或mongo的{db}.{coll}
type Locator struct {
	File string
	DB   string
	Coll string
}

func NewLocator(filePathOrColl string) (*Locator, error) {
	// 检查filePathOrColl是否作为文件存在
	if _, err := os.Stat(filePathOrColl); err == nil {
		return &Locator{File: filePathOrColl}, nil
	}
	dbDotColl := strings.TrimSpace(filePathOrColl)
	if dbDotColl == "" {
		return nil, nil
	}
	splitted := strings.Split(dbDotColl, ".")
	if len(splitted) != 2 {
		return nil, fmt.Errorf("dbDotColl is invalid: %s", dbDotColl)
	}
	return &Locator{DB: splitted[0], Coll: splitted[1]}, nil
}

func (l *Locator) String() string {
	if l.File != "" {
		return l.File
	}
	return l.DB + "." + l.Coll
}

// CachePath 以name区分同一集合里的多个场景
func (l *Locator) CachePath(cacheDir, name string) string {
	if l.File != "" || cacheDir == "" {
		return ""
	}
	return filepath.Join(cacheDir, fmt.Sprintf("%s.%s.%s.json", l.DB, l.Coll, name))
}

// Load 装载场景。文件locator直接读文件；mongo locator先查本地缓存，
// 未命中才连库下载并写回缓存，命中时完全不建立数据库连接
func Load(mongoURI string, loc *Locator, name, cacheDir string) (*Scenario, error) {
	if loc == nil {
		return nil, fmt.Errorf("nil scenario locator")
	}
	if loc.File != "" {
		return loadFile(loc.File)
	}
	if cachePath := loc.CachePath(cacheDir, name); cachePath != "" {
		if s, err := loadFile(cachePath); err == nil {
			log.Infof("scenario %s loaded from cache %s", name, cachePath)
			return s, nil
		}
	}
	s, err := loadMongo(mongoURI, loc, name)
	if err != nil {
		return nil, err
	}
	if cachePath := loc.CachePath(cacheDir, name); cachePath != "" {
		if err := saveFile(cachePath, s); err != nil {
			log.Warnf("failed to cache scenario to %s: %v", cachePath, err)
		}
	}
	return s, nil
}

func loadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func saveFile(path string, s *Scenario) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadMongo(uri string, loc *Locator, name string) (*Scenario, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", uri, err)
	}
	defer client.Disconnect(context.Background())

	var s Scenario
	err = client.Database(loc.DB).Collection(loc.Coll).
		FindOne(ctx, bson.M{"name": name}).Decode(&s)
	if err != nil {
		return nil, fmt.Errorf("fetch scenario %s from %s: %w", name, loc, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	log.Infof("scenario %s loaded from %s", name, loc)
	return &s, nil
}
