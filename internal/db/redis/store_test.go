package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/cardsense/internal/db"
)

const (
	surveyIndex = "cardsense:surveys"
	surveyKey   = "cardsense:survey:7f1c"
	cardKey     = "cardsense:card:C1"
	vectorKey   = "cardsense:emb:all-MiniLM-L6-v2:ab12"
)

func newMockStore(t *testing.T) (*Store, *mock.Client) {
	t.Helper()
	c := mock.NewClient(gomock.NewController(t))
	return NewStoreForTest(c), c
}

func command(name string) gomock.Matcher {
	return mock.MatchFn(func(cmd []string) bool { return cmd[0] == name }, name)
}

// wantDBError asserts err is a *db.Error for op and key.
func wantDBError(t *testing.T, err error, op, key string) {
	t.Helper()
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected *db.Error, got %T (%v)", err, err)
	}
	if dbErr.Op != op || dbErr.Key != key {
		t.Errorf("db.Error op=%q key=%q, want %q %q", dbErr.Op, dbErr.Key, op, key)
	}
	if !strings.Contains(err.Error(), key) {
		t.Errorf("message %q does not name the key", err.Error())
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		reply   rueidis.RedisResult
		wantErr bool
	}{
		{"pong", mock.Result(mock.RedisString("PONG")), false},
		{"timeout", mock.ErrorResult(context.DeadlineExceeded), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(tt.reply)

			if err := s.Ping(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Ping error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitForReady_RetriesUntilPong(t *testing.T) {
	s, c := newMockStore(t)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(errors.New("LOADING"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
	)

	if err := s.WaitForReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForReady_TimeoutKeepsLastError(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).AnyTimes()

	err := s.WaitForReady(context.Background(), 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %v", err)
	}
}

func TestHSet_CardPayload(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.Match("HSET", cardKey, "payload", `{"Card_ID":"C1"}`)).
		Return(mock.Result(mock.RedisInt64(1)))

	if err := s.HSet(context.Background(), cardKey, map[string]string{"payload": `{"Card_ID":"C1"}`}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSet_ErrorNamesKey(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), command("HSET")).Return(mock.ErrorResult(errors.New("OOM")))

	err := s.HSet(context.Background(), surveyKey, map[string]string{"survey_id": "s-1"})
	wantDBError(t, err, db.OpHSet, surveyKey)
}

func TestHSetMulti(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.ErrorResult(errors.New("READONLY")),
		})

	err := s.HSetMulti(context.Background(), []db.HashSetItem{
		{Key: cardKey, Fields: map[string]string{"payload": "{}"}},
		{Key: "cardsense:card:C2", Fields: map[string]string{"payload": "{}"}},
	})
	wantDBError(t, err, db.OpHSet, "cardsense:card:C2")

	if err := NewStoreForTest(nil).HSetMulti(context.Background(), nil); err != nil {
		t.Errorf("empty batch must not touch the client: %v", err)
	}
}

func TestHGetAll(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.Match("HGETALL", surveyKey)).
		Return(mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{
			"survey_id": mock.RedisString("s-1"),
			"timestamp": mock.RedisString("1700000000.5"),
		})))

	m, err := s.HGetAll(context.Background(), surveyKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["survey_id"] != "s-1" || m["timestamp"] != "1700000000.5" {
		t.Errorf("fields = %v", m)
	}
}

func TestHGetAllMulti(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{"payload": mock.RedisString(`{"Card_ID":"C1"}`)})),
			mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{})),
		})

	got, err := s.HGetAllMulti(context.Background(), []string{cardKey, "cardsense:card:gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0]["payload"] == "" || len(got[1]) != 0 {
		t.Errorf("results = %v", got)
	}

	if got, err := NewStoreForTest(nil).HGetAllMulti(context.Background(), nil); err != nil || got != nil {
		t.Errorf("empty keys = %v, %v", got, err)
	}
}

func TestDel(t *testing.T) {
	s, c := newMockStore(t)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("DEL", surveyKey)).Return(mock.Result(mock.RedisInt64(1))),
		c.EXPECT().Do(gomock.Any(), mock.Match("DEL", cardKey)).Return(mock.ErrorResult(context.Canceled)),
	)

	if err := s.Del(context.Background(), surveyKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantDBError(t, s.Del(context.Background(), cardKey), db.OpDel, cardKey)
}

func TestScan_FollowsCursor(t *testing.T) {
	s, c := newMockStore(t)
	gomock.InOrder(
		c.EXPECT().
			Do(gomock.Any(), mock.Match("SCAN", "0", "MATCH", "cardsense:card:*", "COUNT", "100")).
			Return(mock.Result(mock.RedisArray(
				mock.RedisString("17"),
				mock.RedisArray(mock.RedisString(cardKey)),
			))),
		c.EXPECT().
			Do(gomock.Any(), mock.Match("SCAN", "17", "MATCH", "cardsense:card:*", "COUNT", "100")).
			Return(mock.Result(mock.RedisArray(
				mock.RedisString("0"),
				mock.RedisArray(mock.RedisString("cardsense:card:C2")),
			))),
	)

	keys, err := s.Scan(context.Background(), "cardsense:card:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(keys, ",") != cardKey+",cardsense:card:C2" {
		t.Errorf("keys = %v", keys)
	}
}

func TestGet(t *testing.T) {
	tests := []struct {
		name    string
		reply   rueidis.RedisResult
		want    string
		wantErr error
	}{
		{"cached vector", mock.Result(mock.RedisBlobString("\x00\x00\x80\x3f")), "\x00\x00\x80\x3f", nil},
		{"miss", mock.Result(mock.RedisNil()), "", db.ErrKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("GET", vectorKey)).Return(tt.reply)

			got, err := s.Get(context.Background(), vectorKey)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("value = %q", got)
			}
		})
	}
}

func TestSet_TTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want []string
	}{
		{"expiring", time.Hour, []string{"SET", vectorKey, "v", "EX", "3600"}},
		{"persistent", 0, []string{"SET", vectorKey, "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match(tt.want...)).Return(mock.Result(mock.RedisString("OK")))

			if err := s.Set(context.Background(), vectorKey, []byte("v"), tt.ttl); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateIndex_SurveyIndex(t *testing.T) {
	def, err := db.NewIndex(surveyIndex).
		Prefix("cardsense:survey:").
		Tag("survey_id").
		Numeric("timestamp").
		VectorHNSW("vector", 4, db.DistanceCosine, 16, 200).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "FT.CREATE cardsense:surveys ON HASH PREFIX 1 cardsense:survey: SCHEMA " +
		"survey_id TAG timestamp NUMERIC " +
		"vector VECTOR HNSW 10 TYPE FLOAT32 DIM 4 DISTANCE_METRIC COSINE M 16 EF_CONSTRUCTION 200"

	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return strings.Join(cmd, " ") == want }, want)).
		Return(mock.Result(mock.RedisString("OK")))

	if err := s.CreateIndex(context.Background(), def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateIndex_Errors(t *testing.T) {
	def := &db.IndexDefinition{Name: surveyIndex, Fields: []db.IndexField{{Name: "survey_id", Type: db.IndexFieldTag}}}

	t.Run("exists", func(t *testing.T) {
		s, c := newMockStore(t)
		c.EXPECT().Do(gomock.Any(), command("FT.CREATE")).Return(mock.Result(mock.RedisError("Index already exists")))
		if err := s.CreateIndex(context.Background(), def); !errors.Is(err, db.ErrIndexExists) {
			t.Errorf("expected ErrIndexExists, got %v", err)
		}
	})
	t.Run("server error", func(t *testing.T) {
		s, c := newMockStore(t)
		c.EXPECT().Do(gomock.Any(), command("FT.CREATE")).Return(mock.ErrorResult(context.DeadlineExceeded))
		wantDBError(t, s.CreateIndex(context.Background(), def), db.OpCreateIndex, surveyIndex)
	})
}

func TestIndexExists(t *testing.T) {
	tests := []struct {
		name    string
		reply   rueidis.RedisResult
		want    bool
		wantErr bool
	}{
		{"present", mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString(surveyIndex))), true, false},
		{"unknown", mock.Result(mock.RedisError("Unknown Index name")), false, false},
		{"down", mock.ErrorResult(context.DeadlineExceeded), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", surveyIndex)).Return(tt.reply)

			got, err := s.IndexExists(context.Background(), surveyIndex)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("IndexExists = %v, %v", got, err)
			}
			if tt.wantErr {
				wantDBError(t, err, db.OpIndexInfo, surveyIndex)
			}
		})
	}
}

func TestBuildArgs_Rejects(t *testing.T) {
	tag := db.IndexField{Name: "survey_id", Type: db.IndexFieldTag}
	defs := map[string]*db.IndexDefinition{
		"no name":   {Fields: []db.IndexField{tag}},
		"no fields": {Name: surveyIndex},
		"no field name": {Name: surveyIndex, Fields: []db.IndexField{
			{Type: db.IndexFieldTag},
		}},
		"unknown type": {Name: surveyIndex, Fields: []db.IndexField{
			{Name: "x", Type: db.IndexFieldType(42)},
		}},
		"zero dim": {Name: surveyIndex, Fields: []db.IndexField{
			{Name: "vector", Type: db.IndexFieldVector},
		}},
	}
	for name, def := range defs {
		t.Run(name, func(t *testing.T) {
			if _, err := buildCreateArgs(def); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSearchKNN_NearestSurvey(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "FT.SEARCH" && cmd[1] == surveyIndex &&
				cmd[2] == "*=>[KNN 1 @vector $BLOB AS __vector_score]" &&
				strings.Join(cmd[3:7], " ") == "RETURN 2 payload __vector_score" &&
				strings.Join(cmd[7:12], " ") == "SORTBY __vector_score LIMIT 0 1"
		}, "knn k=1")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString(surveyKey),
			mock.RedisArray(
				mock.RedisString("payload"), mock.RedisString(`{"Survey_ID":"s-1"}`),
				mock.RedisString("__vector_score"), mock.RedisString("0.015"),
			),
		)))

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:    surveyIndex,
		Vector:       []float32{0.1, 0.2, 0.3, 0.4},
		K:            1,
		ReturnFields: []string{"payload"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 1 || res.Entries[0].Key != surveyKey {
		t.Fatalf("result = %+v", res)
	}
	e := res.Entries[0]
	if e.Score < 0.984 || e.Score > 0.986 {
		t.Errorf("similarity = %f, want 0.985", e.Score)
	}
	if _, ok := e.Fields["__vector_score"]; ok {
		t.Error("score field must be stripped")
	}
}

func TestSearchKNN_PreFilterAndClamp(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[2] == "(@survey_id:{s\\-1})=>[KNN 3 @emb $BLOB AS __vector_score]"
		}, "prefiltered knn")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString(surveyKey),
			mock.RedisArray(mock.RedisString("__vector_score"), mock.RedisString("1.4")),
		)))

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:   surveyIndex,
		PreFilter:   db.TagQuery("survey_id", "s-1"),
		VectorField: "emb",
		Vector:      []float32{1, 0},
		K:           3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Entries[0].Score != 0 {
		t.Errorf("distance above 1 must clamp to 0, got %f", res.Entries[0].Score)
	}
}

func TestSearchKNN_EmptyIndex(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().Do(gomock.Any(), command("FT.SEARCH")).Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: surveyIndex, Vector: []float32{1}, K: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %v", res.Entries)
	}
}

func TestSearchKNN_InvalidQuery(t *testing.T) {
	queries := map[string]*db.KNNQuery{
		"no index":  {Vector: []float32{1}, K: 1},
		"no vector": {IndexName: surveyIndex, K: 1},
		"zero k":    {IndexName: surveyIndex, Vector: []float32{1}},
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			if _, err := (&Store{}).SearchKNN(context.Background(), q); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSearch_MissingIndex(t *testing.T) {
	for _, msg := range []string{"cardsense:surveys: no such index", "Index with name 'cardsense:surveys' not found"} {
		t.Run(msg, func(t *testing.T) {
			s, c := newMockStore(t)
			c.EXPECT().Do(gomock.Any(), command("FT.SEARCH")).Return(mock.Result(mock.RedisError(msg)))

			_, err := s.SearchList(context.Background(), surveyIndex, "*", 0, 10, nil)
			if !errors.Is(err, db.ErrIndexNotFound) {
				t.Fatalf("expected ErrIndexNotFound, got %v", err)
			}
			wantDBError(t, err, db.OpSearch, surveyIndex)
		})
	}
}

func TestSearchList_Page(t *testing.T) {
	s, c := newMockStore(t)
	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.SEARCH", surveyIndex, "*", "LIMIT", "100", "50", "RETURN", "1", "payload", "DIALECT", "2")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(152),
			mock.RedisString(surveyKey),
			mock.RedisArray(mock.RedisString("payload"), mock.RedisString("{}")),
			mock.RedisString("cardsense:survey:9a0b"),
			mock.RedisArray(mock.RedisString("payload"), mock.RedisString("{}")),
		)))

	res, err := s.SearchList(context.Background(), surveyIndex, "*", 100, 50, []string{"payload"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 152 || len(res.Entries) != 2 || res.Entries[1].Key != "cardsense:survey:9a0b" {
		t.Errorf("result = %+v", res)
	}
}

func TestVectorToBytes_LittleEndianFloat32(t *testing.T) {
	if got := vectorToBytes([]float32{1, -2}); got != "\x00\x00\x80\x3f\x00\x00\x00\xc0" {
		t.Errorf("bytes = %q", got)
	}
}
