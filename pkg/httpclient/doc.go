// Package httpclient はGateway APIを呼び出すHTTPクライアントを提供する。
//
// スモーククライアントが取得したアクセストークンをBearerとして付与し、
// JSONレスポンスをデコードする。2xx以外のレスポンスは*StatusErrorとして返すため、
// 401と403を呼び出し側で区別できる。
package httpclient
