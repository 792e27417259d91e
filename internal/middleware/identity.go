// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/driftledger/internal/model"
)

// 上流（Botゲートウェイ）で解決済みのプレイヤー識別情報を運ぶヘッダー。
const (
	HeaderPlayerID        = "X-Player-ID"
	HeaderPlayerUsername  = "X-Player-Username"
	HeaderPlayerFirstName = "X-Player-First-Name"
	HeaderPlayerLastName  = "X-Player-Last-Name"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストにプレイヤー識別情報を格納するためのキー。
var identityContextKey = contextKey("player_identity")

// Identity はリクエスト元のプレイヤー。
type Identity struct {
	PlayerID model.PlayerID
	Name     model.DisplayName
}

// NewPlayerIdentityMiddleware はヘッダーからプレイヤー識別情報を読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// X-Player-ID が正の整数でない場合は401を返す。表示名は検証せずそのまま渡す。
func NewPlayerIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(HeaderPlayerID))
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidPlayerIDError())
				return
			}

			id, err := model.ParsePlayerID(raw)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidPlayerIDError())
				return
			}

			identity := Identity{
				PlayerID: id,
				Name: model.DisplayName{
					Username:  r.Header.Get(HeaderPlayerUsername),
					FirstName: r.Header.Get(HeaderPlayerFirstName),
					LastName:  r.Header.Get(HeaderPlayerLastName),
				},
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストからプレイヤー識別情報を取得する。
// 識別ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || identity.PlayerID <= 0 {
		return Identity{}, fmt.Errorf("player identity not found in context")
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにプレイヤー識別情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
