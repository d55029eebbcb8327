// Package domain contém os contratos de rate limit e limite de concorrência.
//
// Nada aqui depende de net/http nem de um store concreto, então a camada
// application pode ser testada com fakes.
package domain
