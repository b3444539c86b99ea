// Package gateway はTODO APIゲートウェイの内部実装を提供する。
//
// 外部IDプロバイダーが発行したBearerトークンを署名鍵セット（JWKS）で検証し、
// スコープに応じてモックのTODOと請求情報を返す。/api/health のみ認証不要で、
// それ以外のパスは未定義のものも含めて認証を通過しなければ404すら返さない。
//
// 検証結果・鍵セット取得・スコープ拒否はPrometheusメトリクスとして
// APIとは別のリスナーで公開する。
package gateway
